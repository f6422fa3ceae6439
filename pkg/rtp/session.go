package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/tevino/abool"

	"github.com/arzzra/callrouter/pkg/metrics"
)

// Handler получает события медиасессии. Методы вызываются из горутин чтения
// сокетов; получатель сам переносит их в свой поток обработки.
type Handler interface {
	// OnMediaFrame нагрузка принятого кадра в формате B-канала (биты уже переставлены)
	OnMediaFrame(data []byte)
	// OnMediaClosed сокет закрыт не по инициативе сессии
	OnMediaClosed(err error)
}

// Config параметры медиасессии
type Config struct {
	LocalIP string
	Law     Law
	Pool    *PortPool
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Session пара сокетов bearer/control одного вызова.
//
// Кадры не отправляются, пока не выставлен флаг connected.
type Session struct {
	id      string
	law     Law
	pool    *PortPool
	handler Handler
	metrics *metrics.Collector
	logger  *slog.Logger

	port    int
	bearer  *udpTransport
	control *udpTransport

	connected *abool.AtomicBool
	closed    *abool.AtomicBool

	mutex  sync.Mutex
	framer *Framer
	txBuf  []byte

	remoteIP   string
	remotePort int

	wg sync.WaitGroup
}

// Open выделяет пару портов из пула и открывает сокеты.
// Порты, которые не удалось занять, пропускаются.
func Open(cfg Config, handler Handler) (*Session, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("не задан пул портов")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:        uuid.NewString(),
		law:       cfg.Law,
		pool:      cfg.Pool,
		handler:   handler,
		metrics:   cfg.Metrics,
		connected: abool.New(),
		closed:    abool.New(),
		framer:    NewFramer(),
		txBuf:     make([]byte, 0, FrameSamples),
	}
	s.logger = logger.With(slog.String("rtpSession", s.id))

	var lastErr error
	for attempt := 0; attempt < cfg.Pool.Capacity(); attempt++ {
		port, err := cfg.Pool.Allocate()
		if err != nil {
			return nil, err
		}
		bearer, err := listenUDP(cfg.LocalIP, port)
		if err != nil {
			cfg.Pool.Release(port)
			lastErr = err
			continue
		}
		control, err := listenUDP(cfg.LocalIP, port+1)
		if err != nil {
			bearer.close()
			cfg.Pool.Release(port)
			lastErr = err
			continue
		}
		s.port, s.bearer, s.control = port, bearer, control
		break
	}
	if s.bearer == nil {
		return nil, fmt.Errorf("не удалось открыть медиасокеты: %w", lastErr)
	}

	s.wg.Add(2)
	go s.readBearer()
	go s.readControl()

	slog.Debug("rtp.Open", slog.String("rtpSession", s.id), slog.Int("port", s.port))
	return s, nil
}

// ID идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// LocalPort порт bearer; control на единицу больше
func (s *Session) LocalPort() int {
	return s.port
}

// Remote возвращает согласованный адрес собеседника
func (s *Session) Remote() (string, int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.remoteIP, s.remotePort
}

// Connected сообщает, подключена ли сессия
func (s *Session) Connected() bool {
	return s.connected.IsSet()
}

// Connect направляет bearer на ip:port и control на ip:port+1
func (s *Session) Connect(ip string, port int) error {
	if s.closed.IsSet() {
		return fmt.Errorf("медиасессия закрыта")
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return fmt.Errorf("некорректный адрес медиа: %q", ip)
	}
	if port <= 0 || port >= MaxPort {
		return fmt.Errorf("некорректный порт медиа: %d", port)
	}

	s.bearer.setRemote(&net.UDPAddr{IP: addr, Port: port})
	s.control.setRemote(&net.UDPAddr{IP: addr, Port: port + 1})

	s.mutex.Lock()
	s.remoteIP, s.remotePort = ip, port
	s.framer.Reset()
	s.mutex.Unlock()

	s.connected.Set()
	return nil
}

// SendFrame кодирует и отправляет кадр. До подключения кадр молча отбрасывается.
func (s *Session) SendFrame(pt uint8, payload []byte) error {
	if !s.connected.IsSet() || s.closed.IsSet() {
		return nil
	}

	s.mutex.Lock()
	frame, err := s.framer.Encode(pt, payload)
	s.mutex.Unlock()
	if err != nil {
		return err
	}

	if err := s.bearer.send(frame); err != nil {
		s.metrics.FrameDropped(DropReason(err))
		return err
	}
	s.metrics.FrameSent()
	return nil
}

// WriteBearer принимает отсчеты с B-канала, переставляет биты и отправляет
// кадрами по 160 байт с типом нагрузки текущего закона.
func (s *Session) WriteBearer(data []byte) error {
	if !s.connected.IsSet() {
		return nil
	}

	var frames [][]byte
	s.mutex.Lock()
	for _, b := range data {
		s.txBuf = append(s.txBuf, Flip(b))
		if len(s.txBuf) == FrameSamples {
			frame := make([]byte, FrameSamples)
			copy(frame, s.txBuf)
			frames = append(frames, frame)
			s.txBuf = s.txBuf[:0]
		}
	}
	s.mutex.Unlock()

	for _, frame := range frames {
		if err := s.SendFrame(s.law.PayloadType(), frame); err != nil {
			return err
		}
	}
	return nil
}

// Close закрывает сокеты и возвращает порт в пул; повторный вызов ничего не делает
func (s *Session) Close() error {
	if !s.closed.SetToIf(false, true) {
		return nil
	}
	s.connected.UnSet()

	err := s.bearer.close()
	if cerr := s.control.close(); err == nil {
		err = cerr
	}
	s.wg.Wait()
	s.pool.Release(s.port)

	slog.Debug("rtp.Close", slog.String("rtpSession", s.id), slog.Int("port", s.port))
	return err
}

func (s *Session) readBearer() {
	defer s.wg.Done()

	buf := make([]byte, MaxPacketSize)
	for {
		n, err := s.bearer.receive(buf)
		if transient(err) {
			continue
		}
		if err != nil {
			s.readFailed(err)
			return
		}

		payload, err := Decode(buf[:n], s.law)
		if err != nil {
			s.logger.Debug("rtp.readBearer: кадр отброшен", slog.Any("error", err))
			s.metrics.FrameDropped(DropReason(err))
			continue
		}
		if payload == nil {
			continue
		}
		FlipBytes(payload, payload)
		s.metrics.FrameReceived()
		if s.handler != nil {
			s.handler.OnMediaFrame(payload)
		}
	}
}

// readControl вычитывает и отбрасывает поток управления
func (s *Session) readControl() {
	defer s.wg.Done()

	buf := make([]byte, MaxPacketSize)
	for {
		_, err := s.control.receive(buf)
		if transient(err) {
			continue
		}
		if err != nil {
			s.readFailed(err)
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	if s.closed.IsSet() {
		return
	}
	s.logger.Warn("rtp: ошибка чтения сокета", slog.Any("error", err))
	if s.handler != nil {
		s.handler.OnMediaClosed(err)
	}
}
