//go:build linux

package rtp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// dscpEF Expedited Forwarding для голоса
const dscpEF = 46

// setSockOptVoice выставляет SO_PRIORITY и DSCP; ошибки не критичны (контейнеры)
func setSockOptVoice(fd int) {
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	tos := dscpEF << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
}
