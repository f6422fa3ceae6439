package call

import (
	"log/slog"

	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/media_sdp"
	"github.com/arzzra/callrouter/pkg/message"
)

// OnInvite обрабатывает входящий INVITE. Сессия переходит во владение вызова.
func (c *Call) OnInvite(h Signaling, inv Invite) {
	if !c.is(StateInPrepare) || c.handle != nil {
		c.logger.Warn("Call.OnInvite: неожиданный INVITE", slog.String("state", c.State()))
		h.Destroy()
		return
	}
	c.handle = h
	c.identity = message.Identity{Caller: inv.Caller, CallerName: inv.CallerName, Dialed: inv.Dialed}

	slog.Debug("Call.OnInvite",
		slog.String("call", c.Name()),
		slog.String("caller", inv.Caller),
		slog.String("dialed", inv.Dialed))

	offer, err := media_sdp.Negotiate(inv.SDP, c.env.Law)
	if err != nil {
		c.logger.Info("Call.OnInvite: SDP отклонен", slog.Any("error", err))
		c.reject(media_sdp.StatusCode(err), err.Error())
		return
	}
	if !offer.Present {
		c.reject(400, "INVITE без SDP")
		return
	}
	c.remote = offer

	m, err := c.env.OpenMedia(c)
	if err != nil {
		c.logger.Error("Call.OnInvite: медиасессия", slog.Any("error", err))
		c.reject(500, "Internal Server Error")
		return
	}
	c.media = m

	if c.env.blocked() {
		c.reject(503, "Service Unavailable")
		return
	}

	if err := c.seizeChannel(); err != nil {
		c.logger.Info("Call.OnInvite: нет канала", slog.Any("error", err))
		c.reject(480, "Temporarily Unavailable")
		return
	}
	c.bridge = c.env.Channels.NewBridgeID()
	if err := c.env.Channels.Join(c.channel, c.bridge); err != nil {
		c.logger.Warn("Call.OnInvite: мост", slog.Any("error", err))
	}

	if err := c.handle.Respond(100, "Trying", nil, ""); err != nil {
		c.logger.Warn("Call.OnInvite: 100 Trying", slog.Any("error", err))
	}
	c.fire(eventSetup)
	c.fire(eventProceeding)

	c.send(message.Message{
		Type:       message.TypeSetup,
		Identity:   c.identity,
		Capability: c.capability(),
		BridgeID:   c.bridge,
	})
}

// reject отвечает на входящий INVITE финальным кодом, освобождает сессию
// и ставит вызов на удаление.
func (c *Call) reject(code int, reason string) {
	if c.handle != nil {
		if err := c.handle.Respond(code, reason, nil, ""); err != nil {
			c.logger.Warn("Call.reject", slog.Int("code", code), slog.Any("error", err))
		}
	}
	c.destroyHandle()
	c.enterRelease()
	c.markDelete()
}

// OnInviteResponse ответ на исходящий INVITE
func (c *Call) OnInviteResponse(status int, reason string, body []byte) {
	if !c.is(StateOutSetup, StateOutDialing, StateOutProceeding, StateOutAlerting) {
		c.logger.Debug("Call.OnInviteResponse: ответ отброшен", slog.Int("status", status), slog.String("state", c.State()))
		return
	}

	switch {
	case status == 100:
		if c.is(StateOutSetup, StateOutDialing) && c.fire(eventProceeding) {
			c.send(message.Message{Type: message.TypeProceeding})
		}
	case status == 180 || status == 183:
		if !c.is(StateOutAlerting) && c.fire(eventAlerting) {
			c.send(message.Message{Type: message.TypeAlerting})
		}
	case status < 200:
	case status < 300:
		c.answered(body)
	default:
		c.logger.Info("Call.OnInviteResponse: отказ", slog.Int("status", status), slog.String("reason", reason))
		c.destroyHandle()
		c.closeMedia()
		c.releaseEndpoints(cause.ToCauseCode(status), cause.LocationBeyond)
		c.enterRelease()
		c.markDelete()
	}
}

// answered обрабатывает 2xx на исходящий INVITE
func (c *Call) answered(body []byte) {
	offer, err := media_sdp.Negotiate(body, c.env.Law)
	if err == nil && !offer.Present {
		err = media_sdp.ErrMalformed
	}
	if err != nil {
		c.logger.Info("Call.answered: SDP ответа отклонен", slog.Any("error", err))
		c.abandon(cause.IncompatibleDestination)
		return
	}
	c.remote = offer
	if c.media == nil {
		c.abandon(cause.NormalUnspecified)
		return
	}
	if err := c.media.Connect(offer.Address, offer.Port); err != nil {
		c.logger.Warn("Call.answered: соединение медиа", slog.Any("error", err))
		c.abandon(cause.NormalUnspecified)
		return
	}
	if err := c.handle.Ack(); err != nil {
		c.logger.Warn("Call.answered: ACK", slog.Any("error", err))
	}
	c.fire(eventConnect)
	c.send(message.Message{Type: message.TypeConnect})
}

// abandon отменяет исходящий вызов после 2xx и освобождает маршрутизацию
func (c *Call) abandon(code cause.Code) {
	if err := c.handle.Cancel(cause.ReasonHeader(code)); err != nil {
		c.logger.Warn("Call.abandon: CANCEL", slog.Any("error", err))
		c.destroyHandle()
		c.markDelete()
	}
	c.releaseEndpoints(code, cause.LocationPrivateLocal)
	c.enterRelease()
}

// OnOverlap сеть запросила донабор: накопленные цифры уходят сразу
func (c *Call) OnOverlap() {
	if !c.is(StateOutSetup) {
		c.logger.Debug("Call.OnOverlap: отброшено", slog.String("state", c.State()))
		return
	}
	c.fire(eventDialing)
	c.send(message.Message{Type: message.TypeOverlap})
	if c.digits != "" {
		digits := c.digits
		c.digits = ""
		c.sendInfo(digits)
	}
}

func (c *Call) sendInfo(digits string) {
	if c.handle == nil {
		return
	}
	if err := c.handle.Info(digits); err != nil {
		c.logger.Warn("Call: INFO", slog.Any("error", err))
	}
}

// OnBye сеть завершила вызов
func (c *Call) OnBye(code cause.Code) {
	c.peerReleased(code)
}

// OnCancel сеть отменила входящий INVITE
func (c *Call) OnCancel() {
	c.peerReleased(cause.NormalClearing)
}

func (c *Call) peerReleased(code cause.Code) {
	if c.is(StateRelease) {
		c.logger.Debug("Call: освобождение сетью в RELEASE")
		c.destroyHandle()
		c.closeMedia()
		c.markDelete()
		return
	}
	if !code.Valid() {
		code = cause.NormalClearing
	}
	c.destroyHandle()
	c.closeMedia()
	c.releaseEndpoints(code, cause.LocationBeyond)
	c.enterRelease()
	c.markDelete()
}

// OnByeResponse ответ на наш BYE
func (c *Call) OnByeResponse(status int) {
	c.terminated(status)
}

// OnCancelResponse ответ на наш CANCEL
func (c *Call) OnCancelResponse(status int) {
	c.terminated(status)
}

func (c *Call) terminated(status int) {
	slog.Debug("Call.terminated", slog.String("call", c.Name()), slog.Int("status", status))
	c.destroyHandle()
	c.closeMedia()
	c.enterRelease()
	c.markDelete()
}

// OnInfo цифры от сети на входящем вызове
func (c *Call) OnInfo(digits string) {
	if digits == "" {
		return
	}
	if c.origin != OriginNetwork || c.is(StateRelease, StateInPrepare) {
		c.logger.Debug("Call.OnInfo: отброшено", slog.String("state", c.State()))
		return
	}
	c.send(message.Message{Type: message.TypeInformation, Dialing: digits})
}

// MediaFrame нагрузка из сети в B-канал
func (c *Call) MediaFrame(data []byte) {
	if c.channel < 0 {
		return
	}
	if err := c.env.Channels.Send(c.channel, data); err != nil {
		c.logger.Debug("Call.MediaFrame", slog.Any("error", err))
	}
}

// MediaClosed медиасокет закрылся сам: вызов освобождается с причиной 41
func (c *Call) MediaClosed(err error) {
	c.logger.Warn("Call.MediaClosed", slog.Any("error", err))
	c.closeMedia()
	if c.is(StateRelease) {
		return
	}
	c.releaseEndpoints(cause.TemporaryFailure, cause.LocationBeyond)
	c.releasePeer(cause.TemporaryFailure, cause.LocationBeyond)
}
