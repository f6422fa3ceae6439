package router

import (
	"log/slog"

	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/cause"
	"github.com/arzzra/callrouter/pkg/message"
)

// receive разбирает сообщение от маршрутизации
func (r *Router) receive(msg message.Message) {
	r.metrics.RoutingMessage("in", msg.Type.String())

	switch msg.Type {
	case message.TypeHello:
		r.remoteApp = msg.App
		r.logger.Info("HELLO от маршрутизации", slog.String("app", msg.App))
		return
	case message.TypeNewRef:
		r.newRef(msg)
		return
	case message.TypeBChannel:
		r.bchannelMessage(msg)
		return
	}

	if msg.Ref == 0 {
		r.logger.Error("Сообщение без ссылки", slog.String("message", msg.String()))
		return
	}
	c, ok := r.byRef[msg.Ref]
	if !ok {
		r.logger.Debug("Сообщение для неизвестной ссылки", slog.String("message", msg.String()))
		return
	}
	if msg.Type == message.TypeRelease {
		delete(r.byRef, msg.Ref)
	}
	c.HandleMessage(msg)
}

// newRef обрабатывает выдачу ссылки
func (r *Router) newRef(msg message.Message) {
	if msg.Direction == message.DirectionRouting {
		if msg.Ref == 0 {
			r.logger.Error("NEWREF от маршрутизации с нулевой ссылкой")
			return
		}
		if _, exists := r.byRef[msg.Ref]; exists {
			r.logger.Error("NEWREF для занятой ссылки", slog.Uint64("ref", uint64(msg.Ref)))
			return
		}
		c := call.NewOutbound(r.nextSerial(), msg.Ref, r.env)
		r.add(c)
		slog.Debug("Router.newRef: исходящий вызов", slog.String("call", c.Name()), slog.Uint64("ref", uint64(msg.Ref)))
		return
	}

	// ответ на наш запрос: ссылка достается самому старому ждущему вызову
	if r.waiting.Len() == 0 {
		r.logger.Warn("NEWREF без запроса", slog.Uint64("ref", uint64(msg.Ref)))
		r.Send(message.Release(msg.Ref, cause.NormalClearing, cause.LocationPrivateLocal))
		return
	}
	c := r.waiting.PopFront()
	if !r.alive(c) {
		r.Send(message.Release(msg.Ref, cause.NormalClearing, cause.LocationPrivateLocal))
		return
	}
	r.byRef[msg.Ref] = c
	c.AssignRef(msg.Ref)
}

// bchannelMessage назначение и изъятие B-каналов маршрутизацией
func (r *Router) bchannelMessage(msg message.Message) {
	handle := msg.BChannel.Handle

	switch msg.BChannel.Type {
	case message.BChannelAssign:
		ch, err := r.channels.Assign(handle, bchannel.Params{
			TxGain:   int(msg.BChannel.TxGain),
			RxGain:   int(msg.BChannel.RxGain),
			Pipeline: msg.BChannel.Pipeline,
			Crypt:    msg.BChannel.Crypt,
		})
		if err != nil {
			r.logger.Error("BCHANNEL ASSIGN", slog.Any("error", err))
			return
		}
		seized := false
		if c, ok := r.byRef[msg.Ref]; ok && c.Channel() < 0 {
			if err := r.channels.Seize(ch.Index, bchannel.Owner(c.Serial()), false); err != nil {
				r.logger.Warn("BCHANNEL ASSIGN: канал не закреплен", slog.Any("error", err))
			} else {
				c.ChannelAssigned(ch.Index)
				seized = true
			}
		}
		// Seize уже запросил активацию
		if !seized {
			if err := r.channels.Activate(ch.Index); err != nil {
				r.logger.Warn("BCHANNEL ASSIGN: активация", slog.Any("error", err))
			}
		}
		r.Send(message.Message{
			Type:     message.TypeBChannel,
			Ref:      msg.Ref,
			BChannel: message.BChannel{Type: message.BChannelAssignAck, Handle: handle},
		})

	case message.BChannelRemove:
		ch, ok := r.channels.Lookup(handle)
		if !ok {
			r.logger.Error("BCHANNEL REMOVE: канал не назначен", slog.Uint64("handle", uint64(handle)))
			return
		}
		if ch.Owner != 0 {
			if c, ok := r.lookup(uint64(ch.Owner)); ok {
				c.ChannelRemoved()
			}
		}
		if _, err := r.channels.Remove(handle); err != nil {
			r.logger.Error("BCHANNEL REMOVE", slog.Any("error", err))
			return
		}
		r.Send(message.Message{
			Type:     message.TypeBChannel,
			Ref:      msg.Ref,
			BChannel: message.BChannel{Type: message.BChannelRemoveAck, Handle: handle},
		})

	default:
		r.logger.Warn("BCHANNEL: неизвестный подтип", slog.String("type", msg.BChannel.Type.String()))
	}
}

// ReleaseRef освобождает вызов, привязанный к ссылке, с причиной 16.
// Возвращает false, если ссылка неизвестна.
func (r *Router) ReleaseRef(ref uint32) bool {
	c, ok := r.byRef[ref]
	if !ok {
		return false
	}
	c.Release(cause.NormalClearing, cause.LocationPrivateLocal)
	return true
}
