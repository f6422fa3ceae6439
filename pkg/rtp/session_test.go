package rtp

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHandler struct {
	frames chan []byte
	closed chan error
}

func newTestHandler() *testHandler {
	return &testHandler{frames: make(chan []byte, 16), closed: make(chan error, 1)}
}

func (h *testHandler) OnMediaFrame(data []byte) { h.frames <- data }
func (h *testHandler) OnMediaClosed(err error)  { h.closed <- err }

func openTestSession(t *testing.T, pool *PortPool, law Law, h Handler) *Session {
	t.Helper()
	s, err := Open(Config{LocalIP: "127.0.0.1", Law: law, Pool: pool}, h)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func listenPeer(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestSessionOpenUsesPortPair(t *testing.T) {
	pool, err := NewPortPool(42000)
	require.NoError(t, err)

	s := openTestSession(t, pool, LawALaw, nil)
	assert.Equal(t, 0, s.LocalPort()%2)
	assert.Equal(t, s.LocalPort(), s.bearer.localPort())
	assert.Equal(t, s.LocalPort()+1, s.control.localPort())
	assert.Equal(t, 1, pool.InUse())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, pool.InUse())
	assert.NoError(t, s.Close(), "повторное закрытие")
}

func TestSessionDropsBeforeConnect(t *testing.T) {
	pool, err := NewPortPool(42100)
	require.NoError(t, err)
	s := openTestSession(t, pool, LawALaw, nil)
	peer, _ := listenPeer(t)

	assert.False(t, s.Connected())
	require.NoError(t, s.SendFrame(PayloadTypePCMA, make([]byte, 160)))
	require.NoError(t, s.WriteBearer(make([]byte, 320)))

	peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = peer.ReadFromUDP(make([]byte, 2048))
	assert.Error(t, err, "до подключения кадры не отправляются")
}

func TestSessionConnectValidation(t *testing.T) {
	pool, err := NewPortPool(42200)
	require.NoError(t, err)
	s := openTestSession(t, pool, LawALaw, nil)

	assert.Error(t, s.Connect("not-an-ip", 4000))
	assert.Error(t, s.Connect("127.0.0.1", 0))
	assert.False(t, s.Connected())

	require.NoError(t, s.Connect("127.0.0.1", 4000))
	assert.True(t, s.Connected())
	ip, port := s.Remote()
	assert.Equal(t, "127.0.0.1", ip)
	assert.Equal(t, 4000, port)
}

func TestSessionBearerFrameSequence(t *testing.T) {
	tests := []struct {
		name string
		law  Law
	}{
		{"a-law", LawALaw},
		{"u-law", LawULaw},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPortPool(42300 + i*100)
			require.NoError(t, err)
			s := openTestSession(t, pool, tt.law, nil)
			peer, peerPort := listenPeer(t)
			require.NoError(t, s.Connect("127.0.0.1", peerPort))

			samples := make([]byte, 160)
			for j := range samples {
				samples[j] = byte(j)
			}

			buf := make([]byte, 2048)
			var seqs []uint16
			for round := 0; round < 2; round++ {
				require.NoError(t, s.WriteBearer(samples))

				peer.SetReadDeadline(time.Now().Add(2 * time.Second))
				n, _, err := peer.ReadFromUDP(buf)
				require.NoError(t, err)
				require.Equal(t, 172, n, "заголовок 12 байт и 160 байт нагрузки")

				var p rtp.Packet
				require.NoError(t, p.Unmarshal(buf[:n]))
				assert.Equal(t, tt.law.PayloadType(), p.PayloadType)
				assert.Equal(t, Flip(samples[1]), p.Payload[1])
				seqs = append(seqs, p.SequenceNumber)
			}
			assert.Equal(t, seqs[0]+1, seqs[1])
		})
	}
}

func TestSessionLoopback(t *testing.T) {
	pool, err := NewPortPool(42500)
	require.NoError(t, err)

	ha, hb := newTestHandler(), newTestHandler()
	a := openTestSession(t, pool, LawALaw, ha)
	b := openTestSession(t, pool, LawALaw, hb)
	require.NoError(t, a.Connect("127.0.0.1", b.LocalPort()))
	require.NoError(t, b.Connect("127.0.0.1", a.LocalPort()))

	samples := make([]byte, 160)
	for i := range samples {
		samples[i] = byte(255 - i)
	}
	require.NoError(t, a.WriteBearer(samples[:100]))
	require.NoError(t, a.WriteBearer(samples[100:]))

	select {
	case got := <-hb.frames:
		assert.Equal(t, samples, got, "обратная перестановка битов восстанавливает отсчеты")
	case <-time.After(2 * time.Second):
		t.Fatal("кадр не доставлен")
	}
}

func TestSessionDropsMalformedFrames(t *testing.T) {
	pool, err := NewPortPool(42600)
	require.NoError(t, err)
	h := newTestHandler()
	s := openTestSession(t, pool, LawALaw, h)

	sender, _ := listenPeer(t)
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.LocalPort()}

	_, err = sender.WriteToUDP([]byte{0x80, 0x08, 0, 1}, dst)
	require.NoError(t, err)
	ulaw, err := NewFramer().Encode(PayloadTypePCMU, make([]byte, 160))
	require.NoError(t, err)
	_, err = sender.WriteToUDP(ulaw, dst)
	require.NoError(t, err)

	good, err := NewFramer().Encode(PayloadTypePCMA, []byte{0x01, 0x02})
	require.NoError(t, err)
	_, err = sender.WriteToUDP(good, dst)
	require.NoError(t, err)

	select {
	case got := <-h.frames:
		assert.Equal(t, []byte{0x80, 0x40}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("корректный кадр не доставлен")
	}
	assert.Len(t, h.frames, 0)
}

func TestSessionCloseDoesNotReportFailure(t *testing.T) {
	pool, err := NewPortPool(42700)
	require.NoError(t, err)
	h := newTestHandler()
	s, err := Open(Config{LocalIP: "127.0.0.1", Law: LawALaw, Pool: pool}, h)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	select {
	case err := <-h.closed:
		t.Fatalf("закрытие по инициативе сессии не должно сообщаться: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.NoError(t, s.SendFrame(PayloadTypePCMA, make([]byte, 160)))
}

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"closed", net.ErrClosed, false},
		{"refused", &net.OpError{Op: "read", Err: os.NewSyscallError("recvfrom", syscall.ECONNREFUSED)}, true},
		{"timeout", os.ErrDeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyNetworkError("UDP read", tt.err)
			assert.Equal(t, tt.transient, transient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, classifyNetworkError("UDP read", nil))
}
