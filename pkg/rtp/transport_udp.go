package rtp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
)

// MaxPacketSize размер буфера чтения
const MaxPacketSize = 1500

// udpTransport один UDP сокет медиасессии (bearer или control)
type udpTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	mutex      sync.RWMutex
}

// listenUDP открывает сокет на ip:port и настраивает его для голоса
func listenUDP(ip string, port int) (*udpTransport, error) {
	localAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if err := setSockOptForVoice(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return &udpTransport{conn: conn}, nil
}

// setRemote задает адрес назначения
func (t *udpTransport) setRemote(addr *net.UDPAddr) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = addr
}

// send отправляет датаграмму; неполная запись считается ошибкой
func (t *udpTransport) send(data []byte) error {
	t.mutex.RLock()
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}

	n, err := t.conn.WriteToUDP(data, remoteAddr)
	if err != nil {
		return classifyNetworkError("UDP write", err)
	}
	if n != len(data) {
		return &FrameError{
			Code:    ErrorCodeFrameShortWrite,
			Message: fmt.Sprintf("записано %d из %d байт", n, len(data)),
			Wrapped: io.ErrShortWrite,
		}
	}
	return nil
}

// receive читает одну датаграмму
func (t *udpTransport) receive(buf []byte) (int, error) {
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, classifyNetworkError("UDP read", err)
	}
	return n, nil
}

func (t *udpTransport) localPort() int {
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

func (t *udpTransport) close() error {
	return t.conn.Close()
}

// setSockOptForVoice выставляет приоритет и DSCP EF для голосового трафика
func setSockOptForVoice(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	return rawConn.Control(func(fd uintptr) {
		setSockOptVoice(int(fd))
	})
}

// socketError ошибка сокета медиасессии
type socketError struct {
	op  string
	err error
	// transient ICMP-отказ от собеседника или таймаут, сокет остается пригодным
	transient bool
}

func (e *socketError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *socketError) Unwrap() error {
	return e.err
}

// transient сообщает, можно ли продолжать чтение после ошибки
func transient(err error) bool {
	var se *socketError
	return errors.As(err, &se) && se.transient
}

func classifyNetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	se := &socketError{op: op, err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
	case errors.Is(err, syscall.ECONNREFUSED):
		se.transient = true
	case errors.As(err, &netErr) && netErr.Timeout():
		se.transient = true
	}
	return se
}
