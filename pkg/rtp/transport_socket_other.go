//go:build !linux

package rtp

func setSockOptVoice(fd int) {}
