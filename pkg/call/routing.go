package call

import (
	"fmt"
	"log/slog"

	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/media_sdp"
	"github.com/arzzra/callrouter/pkg/message"
)

// HandleMessage обрабатывает сообщение маршрутизации, адресованное вызову
func (c *Call) HandleMessage(msg message.Message) {
	c.traceMessage("in", msg)

	switch msg.Type {
	case message.TypeSetup:
		c.routingSetup(msg)
	case message.TypeInformation:
		c.routingInformation(msg)
	case message.TypeProceeding:
		if c.is(StateInSetup) {
			c.fire(eventProceeding)
		}
	case message.TypeAlerting:
		c.routingAlerting()
	case message.TypeConnect:
		c.routingConnect()
	case message.TypeDisconnect:
		c.routingDisconnect(msg)
	case message.TypeRelease:
		c.routingRelease(msg)
	default:
		c.logger.Debug("Call.HandleMessage: сообщение не обрабатывается", slog.String("message", msg.String()))
	}
}

func (c *Call) routingSetup(msg message.Message) {
	if !c.is(StateOutPrepare) {
		c.logger.Warn("Call: SETUP вне OUT_PREPARE", slog.String("state", c.State()))
		return
	}
	c.identity = msg.Identity

	if c.env.blocked() {
		c.failSetup(cause.DestinationOutOfOrder)
		return
	}
	if err := c.seizeChannel(); err != nil {
		c.logger.Info("Call: нет свободного канала", slog.Any("error", err))
		c.failSetup(cause.NoChannelAvailable)
		return
	}
	if msg.BridgeID != 0 {
		c.bridge = msg.BridgeID
		if err := c.env.Channels.Join(c.channel, c.bridge); err != nil {
			c.logger.Warn("Call: мост", slog.Any("error", err))
		}
	}

	m, err := c.env.OpenMedia(c)
	if err != nil {
		c.logger.Error("Call: медиасессия", slog.Any("error", err))
		c.failSetup(cause.TemporaryFailure)
		return
	}
	c.media = m

	h, err := c.env.Dialer.Dial(c)
	if err != nil {
		c.logger.Error("Call: сигнальная сессия", slog.Any("error", err))
		c.failSetup(cause.TemporaryFailure)
		return
	}
	c.handle = h

	caller := c.identity.Caller
	if caller == "" {
		caller = "anonymous"
	}
	from := fmt.Sprintf("sip:%s@%s", caller, c.env.LocalIP)
	to := fmt.Sprintf("sip:%s@%s", c.identity.Dialed, c.env.RemoteIP)
	sdp := media_sdp.Build(c.env.LocalIP, m.LocalPort(), c.env.Law)
	if err := h.Invite(from, to, sdp); err != nil {
		c.logger.Error("Call: INVITE", slog.Any("error", err))
		c.destroyHandle()
		c.failSetup(cause.TemporaryFailure)
		return
	}

	slog.Debug("Call.routingSetup", slog.String("call", c.Name()), slog.String("to", to))
	c.fire(eventSetup)
}

// failSetup исходящий вызов не начат: сигнального обмена не было
func (c *Call) failSetup(code cause.Code) {
	c.releaseEndpoints(code, cause.LocationPrivateLocal)
	c.enterRelease()
	c.markDelete()
}

func (c *Call) routingInformation(msg message.Message) {
	digits := msg.Dialing
	if digits == "" {
		digits = msg.Identity.Dialed
	}
	if digits == "" {
		return
	}
	switch {
	case c.is(StateOutPrepare, StateOutSetup):
		c.digits += digits
	case c.is(StateOutDialing, StateConnect):
		c.sendInfo(digits)
	default:
		c.logger.Debug("Call: INFORMATION отброшено", slog.String("state", c.State()))
	}
}

func (c *Call) routingAlerting() {
	if !c.is(StateInSetup, StateInProceeding) {
		c.logger.Debug("Call: ALERTING отброшено", slog.String("state", c.State()))
		return
	}
	if err := c.handle.Respond(180, "Ringing", nil, ""); err != nil {
		c.logger.Warn("Call: 180 Ringing", slog.Any("error", err))
	}
	c.fire(eventAlerting)
}

func (c *Call) routingConnect() {
	if !c.is(StateInSetup, StateInProceeding, StateInAlerting) {
		c.logger.Debug("Call: CONNECT отброшено", slog.String("state", c.State()))
		return
	}

	var err error
	if c.media == nil {
		err = fmt.Errorf("нет медиасессии")
	} else {
		err = c.media.Connect(c.remote.Address, c.remote.Port)
	}
	if err != nil {
		c.logger.Warn("Call: соединение медиа", slog.Any("error", err))
		status, reason := cause.ToSignalCode(cause.TemporaryFailure, cause.LocationPrivateLocal)
		c.respondFinal(status, reason, cause.TemporaryFailure)
		c.releaseEndpoints(cause.TemporaryFailure, cause.LocationPrivateLocal)
		c.enterRelease()
		c.markDelete()
		return
	}

	sdp := media_sdp.Build(c.env.LocalIP, c.media.LocalPort(), c.env.Law)
	if err := c.handle.Respond(200, "OK", sdp, ""); err != nil {
		c.logger.Warn("Call: 200 OK", slog.Any("error", err))
	}
	c.fire(eventConnect)
}

func (c *Call) routingDisconnect(msg message.Message) {
	if c.is(StateRelease) {
		return
	}
	c.releaseEndpoints(cause.NormalClearing, cause.LocationBeyond)
	c.releasePeer(msg.Cause, msg.Location)
}

func (c *Call) routingRelease(msg message.Message) {
	if c.is(StateRelease) {
		c.removeRef(msg.Ref)
		c.logger.Debug("Call: RELEASE в RELEASE", slog.Uint64("ref", uint64(msg.Ref)))
		return
	}
	if c.handle == nil {
		// сигнального обмена не было: подтверждаем освобождение
		c.releaseEndpoints(cause.NormalClearing, cause.LocationPrivateLocal)
		c.enterRelease()
		c.markDelete()
		return
	}
	c.refs = nil
	c.pending = nil
	c.env.Metrics.Release(int(msg.Cause))
	c.releasePeer(msg.Cause, msg.Location)
}

// Release освобождает вызов по команде: RELEASE всем ссылкам и
// завершение сигнальной стороны.
func (c *Call) Release(code cause.Code, loc cause.Location) {
	if c.is(StateRelease) {
		return
	}
	c.releaseEndpoints(code, loc)
	c.releasePeer(code, loc)
}

func (c *Call) removeRef(ref uint32) {
	for i, r := range c.refs {
		if r == ref {
			c.refs = append(c.refs[:i], c.refs[i+1:]...)
			return
		}
	}
}

// releasePeer завершает сигнальную сторону в зависимости от состояния:
// ранний исходящий отменяется, входящий без ответа отклоняется,
// соединенный завершается BYE.
func (c *Call) releasePeer(code cause.Code, loc cause.Location) {
	c.digits = ""
	if !code.Valid() {
		code = cause.NormalClearing
	}
	if c.handle == nil {
		c.enterRelease()
		c.markDelete()
		return
	}

	reasonHeader := cause.ReasonHeader(code)
	switch {
	case c.is(outboundEarly...):
		if err := c.handle.Cancel(reasonHeader); err != nil {
			c.logger.Warn("Call: CANCEL", slog.Any("error", err))
			c.destroyHandle()
			c.markDelete()
		}
	case c.is(inboundEarly...):
		status, reason := cause.ToSignalCode(code, loc)
		c.respondFinal(status, reason, code)
		c.markDelete()
	default:
		if err := c.handle.Bye(reasonHeader); err != nil {
			c.logger.Warn("Call: BYE", slog.Any("error", err))
			c.destroyHandle()
			c.markDelete()
		}
	}
	c.enterRelease()
}

// respondFinal отклоняет входящий INVITE и освобождает сессию
func (c *Call) respondFinal(status int, reason string, code cause.Code) {
	if err := c.handle.Respond(status, reason, nil, cause.ReasonHeader(code)); err != nil {
		c.logger.Warn("Call: финальный ответ", slog.Int("status", status), slog.Any("error", err))
	}
	c.destroyHandle()
}
