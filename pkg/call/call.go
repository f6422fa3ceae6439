// Package call реализует конечный автомат одного вызова (порта) на стороне
// SIP и его обмен сообщениями с маршрутизацией.
//
// Все методы Call вызываются из одного цикла событий; внутренней
// синхронизации нет.
package call

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/media_sdp"
	"github.com/arzzra/callrouter/pkg/message"
	"github.com/arzzra/callrouter/pkg/metrics"
	"github.com/arzzra/callrouter/pkg/rtp"
	"github.com/arzzra/callrouter/pkg/trace"
)

// Origin происхождение вызова
type Origin int

const (
	// OriginNetwork вызов пришел из сети
	OriginNetwork Origin = iota
	// OriginRouting вызов создан по запросу маршрутизации
	OriginRouting
)

func (o Origin) String() string {
	if o == OriginNetwork {
		return "network"
	}
	return "routing"
}

// Signaling сигнальная сессия вызова. Принадлежит вызову целиком.
type Signaling interface {
	// Respond отвечает на входящий INVITE
	Respond(code int, reason string, body []byte, reasonHeader string) error
	// Invite отправляет исходящий INVITE
	Invite(from, to string, sdp []byte) error
	// Cancel отменяет исходящий INVITE
	Cancel(reasonHeader string) error
	// Bye завершает установленный диалог
	Bye(reasonHeader string) error
	// Ack подтверждает 2xx на исходящий INVITE
	Ack() error
	// Info передает цифры донабора
	Info(digits string) error
	// Destroy освобождает сессию
	Destroy()
}

// Dialer создает исходящую сигнальную сессию. События сессии приходят в events.
type Dialer interface {
	Dial(events NetworkEvents) (Signaling, error)
}

// Media медиасессия вызова
type Media interface {
	LocalPort() int
	Connect(ip string, port int) error
	WriteBearer(data []byte) error
	Close() error
}

// Channels операции с B-каналами
type Channels interface {
	Hunt() (int, error)
	Seize(index int, owner bchannel.Owner, exclusive bool) error
	Join(index int, bridge uint32) error
	Release(index int) error
	Send(index int, data []byte) error
	NewBridgeID() uint32
}

// Outlet очередь в сторону маршрутизации и отложенное удаление
type Outlet interface {
	Send(msg message.Message)
	// RequestRef запрашивает ссылку для вызова из сети
	RequestRef(c *Call)
	// ScheduleDelete ставит вызов на удаление в конце итерации цикла
	ScheduleDelete(c *Call)
}

// NetworkEvents события сигнальной сессии
type NetworkEvents interface {
	OnInviteResponse(status int, reason string, body []byte)
	OnOverlap()
	OnBye(c cause.Code)
	OnCancel()
	OnByeResponse(status int)
	OnCancelResponse(status int)
	OnInfo(digits string)
}

// Env окружение вызовов процесса
type Env struct {
	Law      rtp.Law
	LocalIP  string
	RemoteIP string

	Channels  Channels
	Dialer    Dialer
	OpenMedia func(c *Call) (Media, error)
	Outlet    Outlet
	// Blocked порт заблокирован администратором
	Blocked func() bool

	Tracer  *trace.Tracer
	Metrics *metrics.Collector
	Logger  *slog.Logger
	// Fatal вызывается при нарушении внутренних инвариантов
	Fatal func(msg string)
}

func (e *Env) blocked() bool {
	return e.Blocked != nil && e.Blocked()
}

func (e *Env) fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if e.Fatal != nil {
		e.Fatal(msg)
		return
	}
	slog.Error("call: нарушение инварианта", slog.String("reason", msg))
	os.Exit(1)
}

// Invite параметры входящего INVITE
type Invite struct {
	Caller     string
	CallerName string
	Dialed     string
	SDP        []byte
}

// Call вызов на стороне SIP
type Call struct {
	serial uint64
	origin Origin
	env    *Env
	logger *slog.Logger

	stateMachine *fsm.FSM

	// refs ссылки маршрутизации, к которым привязан вызов
	refs         []uint32
	refRequested bool
	awaitingRef  bool
	pending      []message.Message

	identity message.Identity
	digits   string

	channel int
	bridge  uint32

	handle Signaling
	media  Media
	remote media_sdp.Offer

	deleteMarked bool
	createdAt    time.Time
}

func newCall(serial uint64, origin Origin, env *Env, initial string) *Call {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Call{
		serial:    serial,
		origin:    origin,
		env:       env,
		channel:   -1,
		createdAt: time.Now(),
	}
	c.logger = logger.With(slog.String("call", c.Name()))
	c.initStateMachine(initial)
	env.Metrics.CallCreated(origin.String())
	return c
}

// NewInbound создает вызов для входящего INVITE
func NewInbound(serial uint64, env *Env) *Call {
	return newCall(serial, OriginNetwork, env, StateInPrepare)
}

// NewOutbound создает вызов по NEWREF маршрутизации
func NewOutbound(serial uint64, ref uint32, env *Env) *Call {
	c := newCall(serial, OriginRouting, env, StateOutPrepare)
	c.refs = []uint32{ref}
	return c
}

// Serial порядковый номер вызова в процессе
func (c *Call) Serial() uint64 {
	return c.serial
}

// Name имя порта для журналов и трассировки
func (c *Call) Name() string {
	return fmt.Sprintf("sip-%d", c.serial)
}

// Origin происхождение вызова
func (c *Call) Origin() Origin {
	return c.origin
}

// Refs ссылки маршрутизации
func (c *Call) Refs() []uint32 {
	return append([]uint32(nil), c.refs...)
}

// Identity номера вызова
func (c *Call) Identity() message.Identity {
	return c.identity
}

// Channel индекс закрепленного B-канала или -1
func (c *Call) Channel() int {
	return c.channel
}

// Bridge номер моста
func (c *Call) Bridge() uint32 {
	return c.bridge
}

// HasSignaling есть ли живая сигнальная сессия
func (c *Call) HasSignaling() bool {
	return c.handle != nil
}

// DeleteMarked вызов поставлен на удаление
func (c *Call) DeleteMarked() bool {
	return c.deleteMarked
}

// AwaitingRef вызов ждет ответа NEWREF
func (c *Call) AwaitingRef() bool {
	return c.awaitingRef
}

// AssignRef привязывает вызов из сети к выданной ссылке и отправляет
// накопленные сообщения.
func (c *Call) AssignRef(ref uint32) {
	c.awaitingRef = false
	if c.is(StateRelease) {
		c.pending = nil
		c.logger.Debug("Call.AssignRef: вызов уже освобожден", slog.Uint64("ref", uint64(ref)))
		c.toRouting(message.Release(ref, cause.NormalClearing, cause.LocationPrivateLocal))
		return
	}
	if c.origin == OriginNetwork && len(c.refs) > 0 {
		c.env.fatal("вызов %s уже привязан к %d, повторная привязка %d", c.Name(), c.refs[0], ref)
		return
	}
	c.refs = append(c.refs, ref)

	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		msg.Ref = ref
		c.toRouting(msg)
	}
}

// DetachRouting отвязывает вызов от маршрутизации при потере связи
// и освобождает его.
func (c *Call) DetachRouting() {
	c.refs = nil
	c.pending = nil
	c.awaitingRef = false
	if c.is(StateRelease) {
		c.markDelete()
		return
	}
	c.releasePeer(cause.TemporaryFailure, cause.LocationPrivateLocal)
}

// send отправляет сообщение первой привязанной ссылке или копит его до
// получения ссылки.
func (c *Call) send(msg message.Message) {
	if len(c.refs) == 0 {
		if c.origin != OriginNetwork {
			c.logger.Warn("Call.send: нет ссылки", slog.String("message", msg.String()))
			return
		}
		c.pending = append(c.pending, msg)
		if !c.refRequested {
			c.refRequested = true
			c.awaitingRef = true
			c.env.Outlet.RequestRef(c)
		}
		return
	}
	msg.Ref = c.refs[0]
	c.toRouting(msg)
}

// releaseEndpoints отправляет RELEASE каждой ссылке и отвязывает их
func (c *Call) releaseEndpoints(code cause.Code, loc cause.Location) {
	for _, ref := range c.refs {
		c.toRouting(message.Release(ref, code, loc))
	}
	c.refs = nil
	c.pending = nil
	c.env.Metrics.Release(int(code))
}

func (c *Call) toRouting(msg message.Message) {
	c.traceMessage("out", msg)
	c.env.Outlet.Send(msg)
}

func (c *Call) traceMessage(direction string, msg message.Message) {
	t := c.env.Tracer
	if t == nil {
		return
	}
	t.Start(trace.Header{
		Port:      c.Name(),
		Interface: "sip",
		Caller:    c.identity.Caller,
		Dialing:   c.identity.Dialed,
		Direction: direction,
		Category:  "ch",
		Name:      msg.Type.String(),
	})
	t.Add("ref", "", "%d", msg.Ref)
	switch msg.Type {
	case message.TypeRelease, message.TypeDisconnect:
		t.Add("cause", "value", "%d", int(msg.Cause))
		t.Add("cause", "location", "%s", msg.Location)
	case message.TypeSetup:
		t.Add("caller id", "", "%s", msg.Identity.Caller)
		t.Add("dialing", "", "%s", msg.Identity.Dialed)
		if msg.BridgeID != 0 {
			t.Add("bridge", "", "%d", msg.BridgeID)
		}
	case message.TypeInformation:
		t.Add("dialing", "", "%s", msg.Dialing)
	}
	t.End()
}

// markDelete ставит вызов на отложенное удаление один раз
func (c *Call) markDelete() {
	if c.deleteMarked {
		return
	}
	c.deleteMarked = true
	c.env.Outlet.ScheduleDelete(c)
}

// enterRelease переводит автомат в RELEASE
func (c *Call) enterRelease() {
	if !c.is(StateRelease) {
		c.fire(eventRelease)
	}
}

func (c *Call) destroyHandle() {
	if c.handle == nil {
		return
	}
	c.handle.Destroy()
	c.handle = nil
}

func (c *Call) closeMedia() {
	if c.media == nil {
		return
	}
	if err := c.media.Close(); err != nil {
		c.logger.Debug("Call: ошибка закрытия медиа", slog.Any("error", err))
	}
	c.media = nil
}

// Teardown освобождает ресурсы вызова перед удалением: сначала сигнальную
// сессию, затем B-канал, затем медиасессию.
func (c *Call) Teardown() {
	c.destroyHandle()
	if c.channel >= 0 {
		if err := c.env.Channels.Release(c.channel); err != nil {
			c.logger.Debug("Call.Teardown: канал", slog.Int("channel", c.channel), slog.Any("error", err))
		}
		c.channel = -1
	}
	c.closeMedia()
	c.env.Metrics.CallDeleted(time.Since(c.createdAt))
	slog.Debug("Call.Teardown", slog.String("call", c.Name()))
}

// seizeChannel ищет и закрепляет B-канал
func (c *Call) seizeChannel() error {
	idx, err := c.env.Channels.Hunt()
	if err != nil {
		return err
	}
	if err := c.env.Channels.Seize(idx, bchannel.Owner(c.serial), false); err != nil {
		return err
	}
	c.channel = idx
	return nil
}

// BearerData отсчеты из B-канала в сторону сети
func (c *Call) BearerData(data []byte) {
	if c.media == nil {
		return
	}
	if err := c.media.WriteBearer(data); err != nil {
		c.logger.Debug("Call.BearerData", slog.Any("error", err))
	}
}

// ChannelRemoved B-канал удален маршрутизацией или оборудованием
func (c *Call) ChannelRemoved() {
	c.channel = -1
}

// ChannelAssigned B-канал назначен маршрутизацией
func (c *Call) ChannelAssigned(index int) {
	c.channel = index
	if c.bridge != 0 {
		if err := c.env.Channels.Join(index, c.bridge); err != nil {
			c.logger.Warn("Call.ChannelAssigned: мост", slog.Any("error", err))
		}
	}
}

func (c *Call) capability() message.Capability {
	info1 := uint8(message.Info1ULaw)
	if c.env.Law == rtp.LawALaw {
		info1 = message.Info1ALaw
	}
	return message.Capability{
		Capability: message.CapabilitySpeech,
		Mode:       message.ModeCircuit,
		Info1:      info1,
	}
}

var (
	_ NetworkEvents = (*Call)(nil)
	_ Media         = (*rtp.Session)(nil)
	_ Channels      = (*bchannel.Manager)(nil)
)
