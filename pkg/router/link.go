package router

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/arzzra/callrouter/pkg/message"
)

// connect открывает связь с уровнем маршрутизации. Первым в очередь
// ставится HELLO с именем приложения.
func (r *Router) connect() {
	conn, err := net.DialTimeout("unix", r.opts.Socket, dialTimeout)
	if err != nil {
		r.logger.Debug("Нет связи с маршрутизацией", slog.String("socket", r.opts.Socket), slog.Any("error", err))
		r.scheduleReconnect()
		return
	}
	r.conn = conn
	r.outbox.Clear()
	r.outbox.PushBack(message.Message{Type: message.TypeHello, App: r.opts.AppName})

	r.logger.Info("Связь с маршрутизацией установлена", slog.String("socket", r.opts.Socket))
	go r.readLink(conn)
}

func (r *Router) scheduleReconnect() {
	if r.reconnect == nil {
		r.reconnect = time.After(r.opts.ReconnectInterval)
	}
}

// Linked есть ли связь с маршрутизацией
func (r *Router) Linked() bool {
	return r.conn != nil
}

// readLink читает записи фиксированного размера и передает их в цикл
func (r *Router) readLink(conn net.Conn) {
	buf := make([]byte, message.Size)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			r.Post(func() { r.linkFailed(conn, err) })
			return
		}
		msg, err := message.Unmarshal(buf)
		if err != nil {
			r.Post(func() { r.linkFailed(conn, err) })
			return
		}
		r.Post(func() {
			if r.conn == conn {
				r.receive(msg)
			}
		})
	}
}

// flush отправляет очередь к маршрутизации. Запись ограничена по времени;
// если ничего не записано, попытка повторяется на следующем проходе.
func (r *Router) flush() {
	if r.conn == nil {
		return
	}
	buf := make([]byte, message.Size)
	for r.outbox.Len() > 0 {
		msg := r.outbox.Front()
		if err := message.MarshalTo(buf, msg); err != nil {
			r.logger.Error("Сообщение не закодировано", slog.String("message", msg.String()), slog.Any("error", err))
			r.outbox.PopFront()
			continue
		}
		_ = r.conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
		n, err := r.conn.Write(buf)
		if err != nil {
			if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
				return
			}
			r.linkFailed(r.conn, err)
			return
		}
		r.outbox.PopFront()
		r.metrics.RoutingMessage("out", msg.Type.String())
	}
}

// linkFailed закрывает связь, отвязывает все вызовы и планирует
// переподключение.
func (r *Router) linkFailed(conn net.Conn, err error) {
	if r.conn != conn {
		return
	}
	r.logger.Warn("Связь с маршрутизацией потеряна", slog.Any("error", err))
	r.closeLink()

	for r.waiting.Len() > 0 {
		r.waiting.PopFront()
	}
	for _, c := range r.calls {
		if c != nil {
			c.DetachRouting()
		}
	}
	clear(r.byRef)
	r.scheduleReconnect()
}

func (r *Router) closeLink() {
	if r.conn == nil {
		return
	}
	_ = r.conn.Close()
	r.conn = nil
	r.outbox.Clear()
	r.remoteApp = ""
}
