// Package sip_signaling связывает вызовы маршрутизатора с сетью SIP через sipgo.
//
// Обработчики sipgo работают в своих горутинах; все события сессий
// передаются в цикл событий маршрутизатора через функцию post.
package sip_signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/tevino/abool"

	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/config"
)

// IncomingHandler получает новую входящую сессию в цикле событий
type IncomingHandler func(s *Session, inv call.Invite)

// Gateway SIP-сторона маршрутизатора
type Gateway struct {
	cfg    config.SIPConfig
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	contact sip.Uri
	post    func(func())
	onCall  IncomingHandler
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	ctx      context.Context
}

// New создает UA, сервер и клиент sipgo. post выполняет функцию в цикле
// событий маршрутизатора.
func New(cfg config.SIPConfig, post func(func()), onCall IncomingHandler, logger *slog.Logger) (*Gateway, error) {
	if post == nil || onCall == nil {
		return nil, fmt.Errorf("не заданы обработчики шлюза")
	}
	if logger == nil {
		logger = slog.Default()
	}

	host, port := splitHostPort(cfg.Listen, 5060)
	if cfg.LocalIP != "" {
		host = cfg.LocalIP
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent), sipgo.WithUserAgentHostname(host))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UA: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сервера: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		ua:       ua,
		srv:      srv,
		client:   client,
		contact:  sip.Uri{Scheme: "sip", User: "lcr", Host: host, Port: port},
		post:     post,
		onCall:   onCall,
		logger:   logger.With(slog.String("component", "sip")),
		sessions: make(map[string]*Session),
		ctx:      context.Background(),
	}
	g.onRequests()
	return g, nil
}

func (g *Gateway) onRequests() {
	g.srv.OnInvite(g.handleInvite)
	g.srv.OnAck(g.handleAck)
	g.srv.OnCancel(g.handleCancel)
	g.srv.OnBye(g.handleBye)
	g.srv.OnInfo(g.handleInfo)
	g.srv.OnOptions(g.handleOptions)
}

// Serve принимает запросы до отмены ctx
func (g *Gateway) Serve(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	network := strings.ToLower(g.cfg.Transport)
	if network == "" {
		network = "udp"
	}
	g.logger.Info("Запуск SIP сервера", slog.String("network", network), slog.String("address", g.cfg.Listen))
	err := g.srv.ListenAndServe(ctx, network, g.cfg.Listen)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close освобождает ресурсы sipgo
func (g *Gateway) Close() error {
	g.client.Close()
	g.srv.Close()
	return g.ua.Close()
}

// Dial создает исходящую сессию
func (g *Gateway) Dial(events call.NetworkEvents) (call.Signaling, error) {
	if events == nil {
		return nil, fmt.Errorf("не задан получатель событий")
	}
	s := &Session{
		g:         g,
		events:    events,
		transport: g.transport(),
		dest:      g.cfg.Remote,
		localTag:  sip.RandString(8),
		destroyed: abool.New(),
	}
	return s, nil
}

func (g *Gateway) transport() string {
	if g.cfg.Transport == "" {
		return "UDP"
	}
	return strings.ToUpper(g.cfg.Transport)
}

func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

func (g *Gateway) add(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.sessions[s.callID]; exists {
		return false
	}
	g.sessions[s.callID] = s
	return true
}

func (g *Gateway) get(callID string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[callID]
	return s, ok
}

func (g *Gateway) remove(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.sessions[s.callID]; ok && cur == s {
		delete(g.sessions, s.callID)
	}
}

// Sessions число живых сессий
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		g.logger.Error("Ошибка отправки ответа",
			slog.Int("code", code),
			slog.String("method", req.Method.String()),
			slog.Any("error", err))
	}
}

// handleInvite обрабатывает входящий INVITE. Обработчик ждет финального
// ответа, чтобы транзакция не завершилась раньше времени.
func (g *Gateway) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Gateway.handleInvite", slog.String("req", req.StartLine()))

	callID := req.CallID()
	if callID == nil {
		g.respond(req, tx, sip.StatusBadRequest, "Call-ID отсутствует")
		return
	}
	if toTag(req.To()) != "" {
		// re-INVITE не поддерживается
		g.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	s := newInboundSession(g, req, tx)
	if !g.add(s) {
		g.respond(req, tx, sip.StatusLoopDetected, "Loop Detected")
		return
	}

	inv := call.Invite{
		Caller: req.From().Address.User,
		Dialed: req.To().Address.User,
		SDP:    append([]byte(nil), req.Body()...),
	}
	if name := req.From().DisplayName; name != "" {
		inv.CallerName = strings.Trim(name, `"`)
	}
	g.post(func() { g.onCall(s, inv) })

	select {
	case <-s.final:
	case <-tx.Done():
		if !s.finalSent() {
			g.logger.Debug("INVITE завершен без финального ответа", slog.String("callID", s.callID))
			s.emit(func(ev call.NetworkEvents) { ev.OnCancel() })
		}
	case <-g.context().Done():
	}
}

func (g *Gateway) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Gateway.handleAck", slog.String("req", req.StartLine()))
}

func (g *Gateway) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Gateway.handleCancel", slog.String("req", req.StartLine()))

	s, ok := g.lookup(req)
	if !ok || !s.inbound {
		g.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	g.respond(req, tx, sip.StatusOK, "OK")
	if s.terminate() {
		s.emit(func(ev call.NetworkEvents) { ev.OnCancel() })
	}
}

func (g *Gateway) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Gateway.handleBye", slog.String("req", req.StartLine()))

	s, ok := g.lookup(req)
	if !ok {
		g.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	g.respond(req, tx, sip.StatusOK, "OK")

	code := cause.NormalClearing
	if h := req.GetHeader("Reason"); h != nil {
		if c, ok := cause.ParseReason(h.Value()); ok {
			code = c
		}
	}
	s.emit(func(ev call.NetworkEvents) { ev.OnBye(code) })
}

func (g *Gateway) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	s, ok := g.lookup(req)
	if !ok {
		g.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	g.respond(req, tx, sip.StatusOK, "OK")

	digits := parseInfoDigits(req.Body())
	if digits == "" {
		return
	}
	s.emit(func(ev call.NetworkEvents) { ev.OnInfo(digits) })
}

func (g *Gateway) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	g.respond(req, tx, sip.StatusOK, "OK")
}

func (g *Gateway) lookup(req *sip.Request) (*Session, bool) {
	callID := req.CallID()
	if callID == nil {
		return nil, false
	}
	return g.get(callID.Value())
}

func toTag(to *sip.ToHeader) string {
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

func fromTag(from *sip.FromHeader) string {
	if from == nil || from.Params == nil {
		return ""
	}
	tag, _ := from.Params.Get("tag")
	return tag
}

// parseInfoDigits извлекает цифры из тела INFO: application/dtmf-relay
// ("Signal=5") или просто строка цифр.
func parseInfoDigits(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if name, value, ok := strings.Cut(line, "="); ok && strings.EqualFold(strings.TrimSpace(name), "signal") {
			return strings.TrimSpace(value)
		}
	}
	if strings.ContainsAny(text, "=\n") {
		return ""
	}
	return text
}

func splitHostPort(addr string, defPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defPort
	}
	return host, port
}
