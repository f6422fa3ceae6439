package router

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/media_sdp"
	"github.com/arzzra/callrouter/pkg/message"
	"github.com/arzzra/callrouter/pkg/rtp"
)

type fakeSession struct {
	events    call.NetworkEvents
	ops       []string
	destroyed int
}

func (f *fakeSession) Bind(events call.NetworkEvents) { f.events = events }
func (f *fakeSession) Respond(code int, reason string, body []byte, reasonHeader string) error {
	f.ops = append(f.ops, fmt.Sprintf("respond %d", code))
	return nil
}
func (f *fakeSession) Invite(from, to string, sdp []byte) error {
	f.ops = append(f.ops, "invite "+to)
	return nil
}
func (f *fakeSession) Cancel(string) error { f.ops = append(f.ops, "cancel"); return nil }
func (f *fakeSession) Bye(string) error    { f.ops = append(f.ops, "bye"); return nil }
func (f *fakeSession) Ack() error          { f.ops = append(f.ops, "ack"); return nil }
func (f *fakeSession) Info(d string) error { f.ops = append(f.ops, "info "+d); return nil }
func (f *fakeSession) Destroy()            { f.destroyed++ }

type fakeDialer struct {
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(events call.NetworkEvents) (call.Signaling, error) {
	s := &fakeSession{events: events}
	d.sessions = append(d.sessions, s)
	return s, nil
}

type fakeMedia struct {
	closed int
}

func (m *fakeMedia) LocalPort() int                    { return 30000 }
func (m *fakeMedia) Connect(ip string, port int) error { return nil }
func (m *fakeMedia) WriteBearer([]byte) error          { return nil }
func (m *fakeMedia) Close() error                      { m.closed++; return nil }

type fixture struct {
	r      *Router
	hw     *bchannel.Loopback
	dialer *fakeDialer
	fatals []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ifaces := []bchannel.InterfaceConfig{{Name: "loop", Number: 1, Channels: 2}}
	f := &fixture{hw: bchannel.NewLoopback(), dialer: &fakeDialer{}}
	channels := bchannel.NewManager(f.hw, ifaces, nil, nil)
	f.hw.Attach(ifaces)
	require.Equal(t, 2, channels.Poll())

	r, err := New(Options{
		Law:      rtp.LawALaw,
		LocalIP:  "192.0.2.1",
		RemoteIP: "192.0.2.2",
		AppName:  "sip",
		Channels: channels,
		Fatal:    func(msg string) { f.fatals = append(f.fatals, msg) },
		OpenMedia: func(c *call.Call, h rtp.Handler) (call.Media, error) {
			return &fakeMedia{}, nil
		},
	})
	require.NoError(t, err)
	r.UseDialer(f.dialer)
	f.r = r
	return f
}

// linkUp имитирует установленную связь: сообщения копятся в outbox
func (f *fixture) linkUp(t *testing.T) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	f.r.conn = a
}

func (f *fixture) drain() []message.Message {
	var out []message.Message
	for f.r.outbox.Len() > 0 {
		out = append(out, f.r.outbox.PopFront())
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	channels := bchannel.NewManager(bchannel.NewLoopback(), nil, nil, nil)
	_, err = New(Options{Channels: channels})
	assert.Error(t, err)
}

func TestOutboundCallCancelledByRouting(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	require.Equal(t, 1, f.r.Calls())

	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 5, Identity: message.Identity{Caller: "100", Dialed: "200"}})
	require.Len(t, f.dialer.sessions, 1)
	sess := f.dialer.sessions[0]
	assert.Equal(t, []string{"invite sip:200@192.0.2.2"}, sess.ops)

	f.r.receive(message.Release(5, cause.NormalClearing, cause.LocationUser))
	assert.Contains(t, sess.ops, "cancel")
	_, bound := f.r.byRef[5]
	assert.False(t, bound)

	sess.events.OnCancelResponse(487)
	f.r.sweep()
	assert.Zero(t, f.r.Calls())
	assert.Equal(t, 1, sess.destroyed)
	require.NoError(t, f.r.Validate())

	idx, err := f.r.channels.Hunt()
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "канал освобожден")
}

func TestOutboundSetupWithoutChannel(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)
	f.r.SetBlocked(true)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 5, Identity: message.Identity{Dialed: "200"}})

	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.TypeRelease, out[0].Type)
	assert.Equal(t, cause.DestinationOutOfOrder, out[0].Cause)
	assert.Equal(t, cause.LocationPrivateLocal, out[0].Location)

	f.r.sweep()
	assert.Zero(t, f.r.Calls())
	assert.Empty(t, f.dialer.sessions)
}

func TestBlockedInterfaceHasNoChannel(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	assert.False(t, f.r.BlockInterface("nope", true))
	require.True(t, f.r.BlockInterface("loop", true))
	assert.True(t, f.r.Snapshot().Interfaces[0].Blocked)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 5, Identity: message.Identity{Dialed: "200"}})

	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.TypeRelease, out[0].Type)
	assert.Equal(t, cause.NoChannelAvailable, out[0].Cause)
}

func TestIllegalNewRef(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 0, Direction: message.DirectionRouting})
	assert.Zero(t, f.r.Calls())

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	assert.Equal(t, 1, f.r.Calls())
}

func TestUnknownAndZeroRefIgnored(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 0})
	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 99})
	f.r.receive(message.Message{Type: message.TypeAlerting, Ref: 99})

	assert.Zero(t, f.r.Calls())
	assert.Empty(t, f.drain())
}

func inboundSDP() []byte {
	return media_sdp.Build("192.0.2.9", 4000, rtp.LawALaw)
}

func TestInboundCallGetsRef(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	sess := &fakeSession{}
	f.r.Incoming(sess, call.Invite{Caller: "100", Dialed: "200", SDP: inboundSDP()})
	require.NotNil(t, sess.events)
	assert.Equal(t, []string{"respond 100"}, sess.ops)

	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.TypeNewRef, out[0].Type)
	assert.Equal(t, message.DirectionRequest, out[0].Direction)
	assert.Equal(t, 1, f.r.waiting.Len())

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 7, Direction: message.DirectionRequest})
	out = f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.TypeSetup, out[0].Type)
	assert.Equal(t, uint32(7), out[0].Ref)
	assert.Equal(t, "200", out[0].Identity.Dialed)
	assert.NotZero(t, out[0].BridgeID)

	f.r.receive(message.Message{Type: message.TypeAlerting, Ref: 7})
	assert.Contains(t, sess.ops, "respond 180")
	require.NoError(t, f.r.Validate())
}

func TestNewRefWithoutRequest(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 8, Direction: message.DirectionRequest})
	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.Release(8, cause.NormalClearing, cause.LocationPrivateLocal), out[0])
}

func TestInboundCancelledBeforeRef(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	sess := &fakeSession{}
	f.r.Incoming(sess, call.Invite{Caller: "100", Dialed: "200", SDP: inboundSDP()})
	f.drain()

	sess.events.OnCancel()
	f.r.sweep()
	assert.Equal(t, 1, f.r.Calls(), "вызов ждет ссылку")

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 7, Direction: message.DirectionRequest})
	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.TypeRelease, out[0].Type)
	assert.Equal(t, uint32(7), out[0].Ref)

	f.r.sweep()
	assert.Zero(t, f.r.Calls())
	assert.Empty(t, f.r.byRef)
	require.NoError(t, f.r.Validate())
}

func TestInboundWithoutLink(t *testing.T) {
	f := newFixture(t)

	sess := &fakeSession{}
	f.r.Incoming(sess, call.Invite{Caller: "100", Dialed: "200", SDP: inboundSDP()})
	assert.Equal(t, 0, f.r.waiting.Len())

	f.r.sweep()
	assert.Contains(t, sess.ops, "respond 503")
	f.r.sweep()
	assert.Zero(t, f.r.Calls())
}

func TestBChannelAssignRemove(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	c := f.r.byRef[5]
	handle := bchannel.MakeHandle(9, 1)

	f.r.receive(message.Message{Type: message.TypeBChannel, Ref: 5, BChannel: message.BChannel{
		Type: message.BChannelAssign, Handle: handle, TxGain: 2, Pipeline: "echocan",
	}})
	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.BChannelAssignAck, out[0].BChannel.Type)
	assert.Equal(t, handle, out[0].BChannel.Handle)

	ch, ok := f.r.channels.Lookup(handle)
	require.True(t, ok)
	assert.Equal(t, ch.Index, c.Channel())
	assert.Equal(t, 2, ch.Params.TxGain)
	require.NoError(t, f.r.Validate())
	assert.Equal(t, 1, f.hw.Pending(), "канал активируется один раз")

	// повторное назначение того же канала
	f.r.receive(message.Message{Type: message.TypeBChannel, Ref: 5, BChannel: message.BChannel{
		Type: message.BChannelAssign, Handle: handle,
	}})
	assert.Empty(t, f.drain())

	f.r.receive(message.Message{Type: message.TypeBChannel, Ref: 5, BChannel: message.BChannel{
		Type: message.BChannelRemove, Handle: handle,
	}})
	out = f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.BChannelRemoveAck, out[0].BChannel.Type)
	assert.Equal(t, -1, c.Channel())
	_, ok = f.r.channels.Lookup(handle)
	assert.False(t, ok)

	f.r.receive(message.Message{Type: message.TypeBChannel, BChannel: message.BChannel{
		Type: message.BChannelRemove, Handle: handle,
	}})
	assert.Empty(t, f.drain())
}

func TestBChannelAssignWithoutCall(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)
	handle := bchannel.MakeHandle(9, 2)

	f.r.receive(message.Message{Type: message.TypeBChannel, Ref: 77, BChannel: message.BChannel{
		Type: message.BChannelAssign, Handle: handle,
	}})
	out := f.drain()
	require.Len(t, out, 1)
	assert.Equal(t, message.BChannelAssignAck, out[0].BChannel.Type)
	assert.Equal(t, 1, f.hw.Pending())

	ch, ok := f.r.channels.Lookup(handle)
	require.True(t, ok)
	assert.Zero(t, ch.Owner)
}

func TestLinkFailureDetachesCalls(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	f.r.receive(message.Message{Type: message.TypeSetup, Ref: 5, Identity: message.Identity{Dialed: "200"}})
	sess := f.dialer.sessions[0]

	f.r.linkFailed(f.r.conn, io.EOF)
	assert.False(t, f.r.Linked())
	assert.Contains(t, sess.ops, "cancel")
	assert.Empty(t, f.r.byRef)
	assert.NotNil(t, f.r.reconnect)

	// ошибка старого соединения после переподключения не учитывается
	f.linkUp(t)
	f.r.linkFailed(nil, io.EOF)
	assert.True(t, f.r.Linked())
}

func TestReleaseRef(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	assert.False(t, f.r.ReleaseRef(5))

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 5, Direction: message.DirectionRouting})
	assert.True(t, f.r.ReleaseRef(5))

	out := f.drain()
	require.NotEmpty(t, out)
	assert.Equal(t, message.Release(5, cause.NormalClearing, cause.LocationPrivateLocal), out[0])
	f.r.sweep()
	assert.Zero(t, f.r.Calls())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	sess := &fakeSession{}
	f.r.Incoming(sess, call.Invite{Caller: "100", Dialed: "200", SDP: inboundSDP()})
	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 7, Direction: message.DirectionRequest})
	f.r.receive(message.Message{Type: message.TypeHello, App: "lcr"})
	f.r.SetBlocked(true)

	s := f.r.Snapshot()
	assert.True(t, s.Blocked)
	assert.True(t, s.Linked)
	assert.Equal(t, "sip", s.App)
	assert.Equal(t, "lcr", s.RemoteApp)
	require.Len(t, s.Interfaces, 1)
	assert.Equal(t, 1, s.Interfaces[0].Busy)
	require.Len(t, s.Bridges, 1)
	assert.Equal(t, 1, s.Bridges[0].Members)
	assert.Equal(t, []EndpointState{{Ref: 7, Call: 1}}, s.Endpoints)
	require.Len(t, s.Calls, 1)
	assert.Equal(t, call.StateInProceeding, s.Calls[0].State)
	assert.Equal(t, "network", s.Calls[0].Origin)
	assert.Equal(t, "100", s.Calls[0].Caller)
}

func TestArenaReusesSlots(t *testing.T) {
	f := newFixture(t)
	f.linkUp(t)

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 1, Direction: message.DirectionRouting})
	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 2, Direction: message.DirectionRouting})
	first := f.r.byRef[1]

	f.r.receive(message.Release(1, cause.NormalClearing, cause.LocationUser))
	f.r.sweep()
	assert.False(t, f.r.alive(first))

	f.r.receive(message.Message{Type: message.TypeNewRef, Ref: 3, Direction: message.DirectionRouting})
	assert.Len(t, f.r.calls, 2)
	assert.Equal(t, 2, f.r.Calls())
}

func TestRunDoAndStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- f.r.Run(ctx) }()

	var calls int
	require.NoError(t, f.r.Do(ctx, func() { calls = f.r.Calls() }))
	assert.Zero(t, calls)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("цикл не остановился")
	}

	// после остановки Post не блокируется
	f.r.Post(func() {})
	assert.Error(t, f.r.Do(context.Background(), func() {}))
}

func TestMediaCloseWithFullQueue(t *testing.T) {
	ifaces := []bchannel.InterfaceConfig{{Name: "loop", Number: 1, Channels: 1}}
	hw := bchannel.NewLoopback()
	channels := bchannel.NewManager(hw, ifaces, nil, nil)
	pool, err := rtp.NewPortPool(43000)
	require.NoError(t, err)

	r, err := New(Options{
		Law:      rtp.LawALaw,
		LocalIP:  "127.0.0.1",
		Channels: channels,
		Ports:    pool,
	})
	require.NoError(t, err)

	// цикл не запущен, очередь заполнена
	for i := 0; i < workQueueSize; i++ {
		r.work <- func() {}
	}

	m, err := r.openMedia(nil)
	require.NoError(t, err)

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sender.Close()
	frame, err := rtp.NewFramer().Encode(rtp.PayloadTypePCMA, make([]byte, 160))
	require.NoError(t, err)
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: m.LocalPort()}
	for i := 0; i < 3; i++ {
		_, err = sender.WriteToUDP(frame, dst)
		require.NoError(t, err)
	}
	time.Sleep(100 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close завис на заполненной очереди")
	}
	assert.Equal(t, workQueueSize, len(r.work))
	assert.Zero(t, pool.InUse())
}

func TestRoutingLink(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "router.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	f.r.opts.Socket = path
	f.r.opts.ReconnectInterval = 20 * time.Millisecond
	f.r.opts.WriteTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.r.Run(ctx) }()

	conn, err := ln.Accept()
	require.NoError(t, err)

	buf := make([]byte, message.Size)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	hello, err := message.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, message.TypeHello, hello.Type)
	assert.Equal(t, "sip", hello.App)

	rec, err := message.Marshal(message.Message{Type: message.TypeNewRef, Ref: 4, Direction: message.DirectionRouting})
	require.NoError(t, err)
	_, err = conn.Write(rec)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var n int
		_ = f.r.Do(ctx, func() { n = f.r.Calls() })
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	// разрыв: вызов освобождается, связь восстанавливается с новым HELLO
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		var n int
		_ = f.r.Do(ctx, func() { n = f.r.Calls() })
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	conn, err = ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	hello, err = message.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, message.TypeHello, hello.Type)
}
