// Package router содержит цикл событий маршрутизатора вызовов: реестр
// вызовов, разбор сообщений маршрутизации, связь с уровнем маршрутизации
// и опрос оборудования B-каналов.
//
// Все изменения вызовов и таблицы каналов выполняются в одной горутине
// Run. Остальные горутины передают работу через Post.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gammazero/deque"
	"github.com/tevino/abool"

	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/message"
	"github.com/arzzra/callrouter/pkg/metrics"
	"github.com/arzzra/callrouter/pkg/rtp"
	"github.com/arzzra/callrouter/pkg/trace"
)

const (
	workQueueSize = 1024
	dialTimeout   = 200 * time.Millisecond
)

// Options параметры маршрутизатора
type Options struct {
	Law      rtp.Law
	LocalIP  string
	RemoteIP string

	// Socket unix-сокет уровня маршрутизации; пустой отключает связь
	Socket            string
	AppName           string
	ReconnectInterval time.Duration
	WriteTimeout      time.Duration
	PollInterval      time.Duration

	Ports    *rtp.PortPool
	Channels *bchannel.Manager

	Tracer  *trace.Tracer
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Fatal   func(msg string)

	// OpenMedia заменяет открытие RTP-сессии
	OpenMedia func(c *call.Call, h rtp.Handler) (call.Media, error)
}

// InboundSession входящая сигнальная сессия до привязки к вызову
type InboundSession interface {
	call.Signaling
	Bind(events call.NetworkEvents)
}

// Router цикл событий и реестр вызовов
type Router struct {
	opts     Options
	env      *call.Env
	channels *bchannel.Manager
	logger   *slog.Logger
	metrics  *metrics.Collector

	work chan func()
	done chan struct{}

	// арена вызовов: индекс слота стабилен на время жизни вызова
	calls    []*call.Call
	free     []int
	bySerial map[uint64]int
	byRef    map[uint32]*call.Call
	serial   uint64

	// вызовы из сети, ждущие NEWREF, в порядке запроса
	waiting deque.Deque[*call.Call]
	outbox  deque.Deque[message.Message]
	later   deque.Deque[func()]
	deletes []*call.Call

	conn      net.Conn
	reconnect <-chan time.Time
	remoteApp string

	blocked   *abool.AtomicBool
	startedAt time.Time
}

// New создает маршрутизатор. Dialer исходящих вызовов задается UseDialer.
func New(opts Options) (*Router, error) {
	if opts.Channels == nil {
		return nil, fmt.Errorf("не задана таблица B-каналов")
	}
	if opts.OpenMedia == nil && opts.Ports == nil {
		return nil, fmt.Errorf("не задан пул RTP-портов")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		opts:      opts,
		channels:  opts.Channels,
		logger:    logger.With(slog.String("component", "router")),
		metrics:   opts.Metrics,
		work:      make(chan func(), workQueueSize),
		done:      make(chan struct{}),
		bySerial:  make(map[uint64]int),
		byRef:     make(map[uint32]*call.Call),
		blocked:   abool.New(),
		startedAt: time.Now(),
	}
	r.env = &call.Env{
		Law:       opts.Law,
		LocalIP:   opts.LocalIP,
		RemoteIP:  opts.RemoteIP,
		Channels:  opts.Channels,
		OpenMedia: r.openMedia,
		Outlet:    r,
		Blocked:   r.blocked.IsSet,
		Tracer:    opts.Tracer,
		Metrics:   opts.Metrics,
		Logger:    logger,
		Fatal:     opts.Fatal,
	}
	r.channels.OnData(r.bearerData)
	return r, nil
}

// UseDialer задает создание исходящих сигнальных сессий
func (r *Router) UseDialer(d call.Dialer) {
	r.env.Dialer = d
}

// Post выполняет fn в цикле событий. После остановки цикла работа
// отбрасывается.
func (r *Router) Post(fn func()) {
	select {
	case r.work <- fn:
	case <-r.done:
	}
}

// tryPost ставит fn в очередь без ожидания; false, если очередь полна
func (r *Router) tryPost(fn func()) bool {
	select {
	case r.work <- fn:
		return true
	default:
		return false
	}
}

// Do выполняет fn в цикле событий и ждет завершения
func (r *Router) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.work <- job:
	case <-r.done:
		return fmt.Errorf("цикл событий остановлен")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return fmt.Errorf("цикл событий остановлен")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run выполняет цикл событий до отмены ctx
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)

	poll := time.NewTicker(r.opts.PollInterval)
	defer poll.Stop()

	if r.opts.Socket != "" {
		r.connect()
	}
	r.logger.Info("Цикл событий запущен", slog.String("socket", r.opts.Socket))

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case fn := <-r.work:
			fn()
		case <-poll.C:
			r.channels.Poll()
		case <-r.reconnect:
			r.reconnect = nil
			r.connect()
		}
		r.flush()
		r.sweep()
	}
}

// shutdown освобождает все вызовы при остановке процесса
func (r *Router) shutdown() {
	for _, c := range r.calls {
		if c != nil {
			c.DetachRouting()
		}
	}
	r.flush()
	r.sweep()
	for _, c := range r.calls {
		if c != nil {
			c.Teardown()
			r.remove(c)
		}
	}
	r.closeLink()
	r.logger.Info("Цикл событий остановлен")
}

// Incoming регистрирует вызов для входящего INVITE
func (r *Router) Incoming(s InboundSession, inv call.Invite) {
	c := call.NewInbound(r.nextSerial(), r.env)
	r.add(c)
	s.Bind(c)
	c.OnInvite(s, inv)
}

// SetBlocked блокирует прием и создание вызовов
func (r *Router) SetBlocked(blocked bool) {
	r.blocked.SetTo(blocked)
	r.logger.Info("Блокировка порта", slog.Bool("blocked", blocked))
}

// BlockInterface блокирует интерфейс B-каналов для новых вызовов.
// Вызывается только из цикла событий.
func (r *Router) BlockInterface(name string, blocked bool) bool {
	if !r.channels.SetBlocked(name, blocked) {
		return false
	}
	r.logger.Info("Блокировка интерфейса", slog.String("interface", name), slog.Bool("blocked", blocked))
	return true
}

// Blocked заблокирован ли порт
func (r *Router) Blocked() bool {
	return r.blocked.IsSet()
}

// Send ставит сообщение в очередь к маршрутизации. RELEASE освобождает ссылку.
func (r *Router) Send(msg message.Message) {
	if msg.Type == message.TypeRelease {
		delete(r.byRef, msg.Ref)
	}
	if r.conn == nil {
		r.logger.Debug("Router.Send: нет связи с маршрутизацией", slog.String("message", msg.String()))
		return
	}
	r.outbox.PushBack(msg)
}

// RequestRef запрашивает ссылку для вызова из сети
func (r *Router) RequestRef(c *call.Call) {
	if r.conn == nil {
		r.logger.Info("Нет связи с маршрутизацией, вызов освобождается", slog.String("call", c.Name()))
		r.later.PushBack(func() {
			if r.alive(c) {
				c.DetachRouting()
			}
		})
		return
	}
	r.waiting.PushBack(c)
	r.outbox.PushBack(message.Message{Type: message.TypeNewRef, Direction: message.DirectionRequest})
}

// ScheduleDelete ставит вызов на удаление в конце итерации
func (r *Router) ScheduleDelete(c *call.Call) {
	r.deletes = append(r.deletes, c)
}

// sweep выполняет отложенную работу и удаляет помеченные вызовы. Вызов,
// ждущий NEWREF, удаляется после получения ссылки.
func (r *Router) sweep() {
	for r.later.Len() > 0 {
		fn := r.later.PopFront()
		fn()
	}
	if len(r.deletes) == 0 {
		return
	}
	marked := r.deletes
	r.deletes = nil
	for _, c := range marked {
		if c.AwaitingRef() {
			r.deletes = append(r.deletes, c)
			continue
		}
		if !r.alive(c) {
			continue
		}
		c.Teardown()
		r.remove(c)
	}
}

func (r *Router) nextSerial() uint64 {
	r.serial++
	return r.serial
}

func (r *Router) add(c *call.Call) {
	var slot int
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		r.calls[slot] = c
	} else {
		slot = len(r.calls)
		r.calls = append(r.calls, c)
	}
	r.bySerial[c.Serial()] = slot
	for _, ref := range c.Refs() {
		r.byRef[ref] = c
	}
}

func (r *Router) remove(c *call.Call) {
	slot, ok := r.bySerial[c.Serial()]
	if !ok || r.calls[slot] != c {
		return
	}
	r.calls[slot] = nil
	r.free = append(r.free, slot)
	delete(r.bySerial, c.Serial())
	for ref, owner := range r.byRef {
		if owner == c {
			delete(r.byRef, ref)
		}
	}
}

func (r *Router) lookup(serial uint64) (*call.Call, bool) {
	slot, ok := r.bySerial[serial]
	if !ok {
		return nil, false
	}
	return r.calls[slot], true
}

func (r *Router) alive(c *call.Call) bool {
	cur, ok := r.lookup(c.Serial())
	return ok && cur == c
}

// Calls число вызовов в реестре
func (r *Router) Calls() int {
	return len(r.bySerial)
}

// Validate проверяет согласованность таблицы каналов и реестра
func (r *Router) Validate() error {
	return r.channels.Validate(func(owner bchannel.Owner) (int, bool) {
		c, ok := r.lookup(uint64(owner))
		if !ok {
			return -1, false
		}
		return c.Channel(), true
	})
}

func (r *Router) bearerData(ch *bchannel.Channel, data []byte) {
	c, ok := r.lookup(uint64(ch.Owner))
	if !ok {
		return
	}
	c.BearerData(data)
}

func (r *Router) openMedia(c *call.Call) (call.Media, error) {
	h := &mediaEvents{r: r, c: c}
	if r.opts.OpenMedia != nil {
		return r.opts.OpenMedia(c, h)
	}
	s, err := rtp.Open(rtp.Config{
		LocalIP: r.opts.LocalIP,
		Law:     r.opts.Law,
		Pool:    r.opts.Ports,
		Metrics: r.metrics,
		Logger:  r.logger,
	}, h)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// mediaEvents переносит события RTP-сессии в цикл событий
type mediaEvents struct {
	r *Router
	c *call.Call
}

// OnMediaFrame вызывается из читающей горутины RTP. Кадр отбрасывается,
// если очередь цикла заполнена: цикл может ждать эту горутину в Close.
func (m *mediaEvents) OnMediaFrame(data []byte) {
	ok := m.r.tryPost(func() {
		if m.r.alive(m.c) {
			m.c.MediaFrame(data)
		}
	})
	if !ok {
		m.r.metrics.FrameDropped("queue_full")
	}
}

func (m *mediaEvents) OnMediaClosed(err error) {
	go m.r.Post(func() {
		if m.r.alive(m.c) {
			m.c.MediaClosed(err)
		}
	})
}
