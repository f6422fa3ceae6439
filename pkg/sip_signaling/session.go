package sip_signaling

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/tevino/abool"

	"github.com/arzzra/callrouter/pkg/call"
)

// Session сигнальная сессия одного вызова. Методы call.Signaling
// вызываются из цикла событий, ответы сети приходят из горутин sipgo.
type Session struct {
	g       *Gateway
	inbound bool
	events  call.NetworkEvents

	transport string
	dest      string

	mu           sync.Mutex
	callID       string
	localTag     string
	remoteTag    string
	localURI     sip.Uri
	remoteURI    sip.Uri
	remoteTarget sip.Uri
	cseq         uint32

	// входящий вызов
	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction
	final     chan struct{}
	finalOnce sync.Once

	// исходящий вызов
	invite    *sip.Request
	answer    *sip.Response
	cancelled bool

	destroyed *abool.AtomicBool
}

func newInboundSession(g *Gateway, req *sip.Request, tx sip.ServerTransaction) *Session {
	s := &Session{
		g:         g,
		inbound:   true,
		transport: req.Transport(),
		dest:      req.Source(),
		callID:    req.CallID().Value(),
		localTag:  sip.RandString(8),
		remoteTag: fromTag(req.From()),
		localURI:  req.To().Address,
		remoteURI: req.From().Address,
		inviteReq: req,
		inviteTx:  tx,
		final:     make(chan struct{}),
		destroyed: abool.New(),
	}
	s.remoteTarget = s.remoteURI
	if c := req.Contact(); c != nil {
		s.remoteTarget = c.Address
	}
	return s
}

// Bind задает получателя событий входящей сессии
func (s *Session) Bind(events call.NetworkEvents) {
	s.events = events
}

// CallID идентификатор диалога
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// emit передает событие в цикл маршрутизатора, если сессия жива
func (s *Session) emit(fn func(ev call.NetworkEvents)) {
	s.g.post(func() {
		if s.destroyed.IsSet() || s.events == nil {
			return
		}
		fn(s.events)
	})
}

func (s *Session) finalSent() bool {
	select {
	case <-s.final:
		return true
	default:
		return false
	}
}

func (s *Session) markFinal() {
	s.finalOnce.Do(func() { close(s.final) })
}

// terminate отвечает 487 на INVITE, отмененный сетью.
// Возвращает false, если финальный ответ уже был отправлен.
func (s *Session) terminate() bool {
	if s.finalSent() {
		return false
	}
	res := sip.NewResponseFromRequest(s.inviteReq, sip.StatusRequestTerminated, "Request Terminated", nil)
	s.setLocalTag(res)
	if err := s.inviteTx.Respond(res); err != nil {
		s.g.logger.Debug("Session.terminate", slog.Any("error", err))
	}
	s.markFinal()
	return true
}

func (s *Session) setLocalTag(res *sip.Response) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params = to.Params.Add("tag", s.localTag)
	}
}

// Respond отвечает на входящий INVITE
func (s *Session) Respond(code int, reason string, body []byte, reasonHeader string) error {
	if !s.inbound {
		return fmt.Errorf("ответ возможен только на входящий INVITE")
	}
	if s.finalSent() {
		return fmt.Errorf("финальный ответ уже отправлен")
	}

	res := sip.NewResponseFromRequest(s.inviteReq, code, reason, body)
	if code > 100 {
		s.setLocalTag(res)
	}
	if len(body) > 0 {
		ct := sip.ContentTypeHeader("application/sdp")
		res.AppendHeader(&ct)
	}
	if code >= 200 && code < 300 {
		res.AppendHeader(&sip.ContactHeader{Address: s.g.contact})
	}
	if reasonHeader != "" {
		res.AppendHeader(sip.NewHeader("Reason", reasonHeader))
	}

	err := s.inviteTx.Respond(res)
	if code >= 200 {
		s.markFinal()
	}
	if err != nil {
		return fmt.Errorf("ошибка отправки %d: %w", code, err)
	}
	return nil
}

// Invite отправляет исходящий INVITE
func (s *Session) Invite(from, to string, sdp []byte) error {
	req, err := s.buildInvite(from, to, sdp)
	if err != nil {
		return err
	}
	if !s.g.add(s) {
		return fmt.Errorf("Call-ID %s уже используется", s.callID)
	}

	tx, err := s.g.client.TransactionRequest(s.g.context(), req)
	if err != nil {
		s.g.remove(s)
		return fmt.Errorf("ошибка отправки INVITE: %w", err)
	}
	go s.watchInvite(tx)
	return nil
}

func (s *Session) buildInvite(from, to string, sdp []byte) (*sip.Request, error) {
	var fromURI, toURI sip.Uri
	if err := sip.ParseUri(from, &fromURI); err != nil {
		return nil, fmt.Errorf("некорректный From %q: %w", from, err)
	}
	if err := sip.ParseUri(to, &toURI); err != nil {
		return nil, fmt.Errorf("некорректный To %q: %w", to, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.callID = uuid.NewString()
	s.localURI = fromURI
	s.remoteURI = toURI
	s.remoteTarget = toURI
	s.cseq = 1

	req := sip.NewRequest(sip.INVITE, toURI)
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: sip.NewParams().Add("tag", s.localTag)})
	req.AppendHeader(&sip.ToHeader{Address: toURI, Params: sip.NewParams()})
	callID := sip.CallIDHeader(s.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq, MethodName: sip.INVITE})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(&sip.ContactHeader{Address: s.g.contact})
	if len(sdp) > 0 {
		ct := sip.ContentTypeHeader("application/sdp")
		req.AppendHeader(&ct)
		req.SetBody(sdp)
	}
	req.SetTransport(s.transport)
	if s.dest != "" {
		req.SetDestination(s.dest)
	}
	s.invite = req
	return req, nil
}

// watchInvite читает ответы на исходящий INVITE
func (s *Session) watchInvite(tx sip.ClientTransaction) {
	defer tx.Terminate()
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return
			}
			if s.onInviteResponse(res) {
				return
			}
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				s.g.logger.Info("INVITE без ответа", slog.String("callID", s.CallID()), slog.Any("error", err))
			}
			s.mu.Lock()
			cancelled := s.cancelled
			s.mu.Unlock()
			if cancelled {
				s.emit(func(ev call.NetworkEvents) { ev.OnCancelResponse(sip.StatusRequestTimeout) })
			} else {
				s.emit(func(ev call.NetworkEvents) { ev.OnInviteResponse(sip.StatusRequestTimeout, "Request Timeout", nil) })
			}
			return
		}
	}
}

// onInviteResponse возвращает true на финальном ответе
func (s *Session) onInviteResponse(res *sip.Response) bool {
	status := res.StatusCode
	reason := res.Reason
	body := append([]byte(nil), res.Body()...)

	s.mu.Lock()
	if tag := toTag(res.To()); tag != "" {
		s.remoteTag = tag
	}
	if status >= 200 && status < 300 {
		s.answer = res
		if c := res.Contact(); c != nil {
			s.remoteTarget = c.Address
		}
	}
	cancelled := s.cancelled
	s.mu.Unlock()

	if cancelled {
		switch {
		case status < 200:
			return false
		case status < 300:
			// 2xx после CANCEL: подтверждаем и сразу завершаем
			if err := s.Ack(); err != nil {
				s.g.logger.Warn("ACK после CANCEL", slog.Any("error", err))
			}
			s.sendBye("", func(code int) {
				s.emit(func(ev call.NetworkEvents) { ev.OnCancelResponse(code) })
			})
		default:
			s.emit(func(ev call.NetworkEvents) { ev.OnCancelResponse(status) })
		}
		return true
	}

	s.emit(func(ev call.NetworkEvents) { ev.OnInviteResponse(status, reason, body) })
	return status >= 200
}

// Cancel отменяет исходящий INVITE. Если 2xx уже получен, отправляются
// ACK и BYE; ответ на BYE приходит как OnCancelResponse.
func (s *Session) Cancel(reasonHeader string) error {
	s.mu.Lock()
	if s.invite == nil {
		s.mu.Unlock()
		return fmt.Errorf("INVITE не отправлялся")
	}
	s.cancelled = true
	answered := s.answer != nil
	s.mu.Unlock()

	if answered {
		if err := s.Ack(); err != nil {
			s.g.logger.Warn("ACK перед BYE", slog.Any("error", err))
		}
		return s.sendBye(reasonHeader, func(code int) {
			s.emit(func(ev call.NetworkEvents) { ev.OnCancelResponse(code) })
		})
	}

	req := s.buildCancel(reasonHeader)
	tx, err := s.g.client.TransactionRequest(s.g.context(), req)
	if err != nil {
		return fmt.Errorf("ошибка отправки CANCEL: %w", err)
	}
	go func() {
		defer tx.Terminate()
		code := finalCode(tx)
		slog.Debug("Session.Cancel", slog.String("callID", s.CallID()), slog.Int("code", code))
	}()
	return nil
}

// buildCancel собирает CANCEL по исходному INVITE
func (s *Session) buildCancel(reasonHeader string) *sip.Request {
	s.mu.Lock()
	inv := s.invite
	s.mu.Unlock()

	cancelReq := sip.NewRequest(sip.CANCEL, inv.Recipient)
	cancelReq.SipVersion = inv.SipVersion
	if via := inv.Via(); via != nil {
		cancelReq.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", inv, cancelReq)
	maxForwards := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxForwards)
	if h := inv.From(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.To(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.CallID(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.CSeq(); h != nil {
		cseq := sip.HeaderClone(h).(*sip.CSeqHeader)
		cseq.MethodName = sip.CANCEL
		cancelReq.AppendHeader(cseq)
	}
	if reasonHeader != "" {
		cancelReq.AppendHeader(sip.NewHeader("Reason", reasonHeader))
	}
	cancelReq.SetTransport(inv.Transport())
	cancelReq.SetSource(inv.Source())
	cancelReq.SetDestination(inv.Destination())
	return cancelReq
}

// Ack подтверждает 2xx
func (s *Session) Ack() error {
	s.mu.Lock()
	inv, answer := s.invite, s.answer
	s.mu.Unlock()
	if inv == nil || answer == nil {
		return fmt.Errorf("нет ответа 2xx для ACK")
	}
	return s.g.client.WriteRequest(s.buildAck(inv, answer))
}

// buildAck собирает ACK на 2xx: адресат из Contact ответа, To с тегом
// ответа, CSeq с номером INVITE.
func (s *Session) buildAck(inv *sip.Request, answer *sip.Response) *sip.Request {
	s.mu.Lock()
	target := s.remoteTarget
	s.mu.Unlock()
	if c := answer.Contact(); c != nil {
		target = c.Address
	}

	ack := sip.NewRequest(sip.ACK, target)
	if from := inv.From(); from != nil {
		ack.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
	}
	if to := answer.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}
	if callID := inv.CallID(); callID != nil {
		id := *callID
		ack.AppendHeader(&id)
	}
	var seq uint32
	if cseq := inv.CSeq(); cseq != nil {
		seq = cseq.SeqNo
	}
	ack.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.ACK})
	maxForwards := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxForwards)
	ack.SetTransport(inv.Transport())
	ack.SetDestination(inv.Destination())
	return ack
}

// Bye завершает диалог
func (s *Session) Bye(reasonHeader string) error {
	return s.sendBye(reasonHeader, func(code int) {
		s.emit(func(ev call.NetworkEvents) { ev.OnByeResponse(code) })
	})
}

func (s *Session) sendBye(reasonHeader string, done func(code int)) error {
	req := s.inDialogRequest(sip.BYE)
	if reasonHeader != "" {
		req.AppendHeader(sip.NewHeader("Reason", reasonHeader))
	}
	return s.transaction(req, done)
}

// Info передает цифры в теле application/dtmf-relay
func (s *Session) Info(digits string) error {
	req := s.inDialogRequest(sip.INFO)
	ct := sip.ContentTypeHeader("application/dtmf-relay")
	req.AppendHeader(&ct)
	req.SetBody([]byte(fmt.Sprintf("Signal=%s\r\nDuration=160\r\n", digits)))
	return s.transaction(req, nil)
}

// transaction отправляет запрос в диалоге и передает код финального ответа
func (s *Session) transaction(req *sip.Request, done func(code int)) error {
	tx, err := s.g.client.TransactionRequest(s.g.context(), req)
	if err != nil {
		return fmt.Errorf("ошибка отправки %s: %w", req.Method, err)
	}
	go func() {
		defer tx.Terminate()
		code := finalCode(tx)
		slog.Debug("Session.transaction", slog.String("method", req.Method.String()), slog.Int("code", code))
		if done != nil {
			done(code)
		}
	}()
	return nil
}

// finalCode ждет финальный ответ транзакции, 408 при таймауте
func finalCode(tx sip.ClientTransaction) int {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return sip.StatusRequestTimeout
			}
			if res.StatusCode >= 200 {
				return res.StatusCode
			}
		case <-tx.Done():
			return sip.StatusRequestTimeout
		}
	}
}

// inDialogRequest собирает запрос внутри диалога
func (s *Session) inDialogRequest(method sip.RequestMethod) *sip.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cseq++
	req := sip.NewRequest(method, s.remoteTarget)
	req.AppendHeader(&sip.FromHeader{Address: s.localURI, Params: sip.NewParams().Add("tag", s.localTag)})
	to := &sip.ToHeader{Address: s.remoteURI, Params: sip.NewParams()}
	if s.remoteTag != "" {
		to.Params = to.Params.Add("tag", s.remoteTag)
	}
	req.AppendHeader(to)
	callID := sip.CallIDHeader(s.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq, MethodName: method})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	req.SetTransport(s.transport)
	if s.dest != "" {
		req.SetDestination(s.dest)
	}
	return req
}

// Destroy освобождает сессию. Входящий INVITE без финального ответа
// отклоняется.
func (s *Session) Destroy() {
	if !s.destroyed.SetToIf(false, true) {
		return
	}
	if s.inbound && !s.finalSent() {
		res := sip.NewResponseFromRequest(s.inviteReq, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil)
		s.setLocalTag(res)
		_ = s.inviteTx.Respond(res)
		s.markFinal()
	}
	s.g.remove(s)
	slog.Debug("Session.Destroy", slog.String("callID", s.CallID()))
}

var _ call.Signaling = (*Session)(nil)
var _ call.Dialer = (*Gateway)(nil)
