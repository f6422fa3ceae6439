package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/arzzra/callrouter/pkg/router"
)

// Controller операции маршрутизатора, доступные администрированию
type Controller interface {
	Report(ctx context.Context) (Report, error)
	// SetBlocked блокирует порт целиком или, если iface не пуст, один интерфейс
	SetBlocked(ctx context.Context, iface string, blocked bool) error
	// Release возвращает false, если ссылка неизвестна
	Release(ctx context.Context, ref uint32) (bool, error)
}

type routerController struct {
	r    *router.Router
	info Info
}

// NewRouterController выполняет операции в цикле событий маршрутизатора
func NewRouterController(r *router.Router, info Info) Controller {
	return &routerController{r: r, info: info}
}

func (c *routerController) Report(ctx context.Context) (Report, error) {
	var snap router.Snapshot
	if err := c.r.Do(ctx, func() { snap = c.r.Snapshot() }); err != nil {
		return Report{}, err
	}
	return BuildReport(snap, c.info), nil
}

func (c *routerController) SetBlocked(ctx context.Context, iface string, blocked bool) error {
	found := true
	err := c.r.Do(ctx, func() {
		if iface == "" {
			c.r.SetBlocked(blocked)
			return
		}
		found = c.r.BlockInterface(iface, blocked)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("интерфейс %q не найден", iface)
	}
	return nil
}

func (c *routerController) Release(ctx context.Context, ref uint32) (bool, error) {
	var found bool
	err := c.r.Do(ctx, func() { found = c.r.ReleaseRef(ref) })
	return found, err
}

// Server принимает запросы администрирования на unix-сокете
type Server struct {
	path   string
	ctrl   Controller
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer создает сервер на сокете path
func NewServer(path string, ctrl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:   path,
		ctrl:   ctrl,
		logger: logger.With(slog.String("component", "admin")),
	}
}

// Serve принимает соединения до отмены ctx. Старый файл сокета удаляется.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("не удалось удалить старый сокет %s: %w", s.path, err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ошибка открытия сокета администрирования: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("Сокет администрирования открыт", slog.String("path", s.path))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("ошибка приема соединения: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Addr адрес слушающего сокета, nil до запуска
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handle обслуживает одно соединение: запрос, ответ, до закрытия клиентом
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, Size)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("Admin: чтение запроса", slog.Any("error", err))
			}
			return
		}
		rec, t := parseRecord(buf)
		s.logger.Debug("Admin: запрос", slog.String("type", t.String()))

		var out [][]byte
		switch t {
		case TypeRequestState:
			rep, err := s.ctrl.Report(ctx)
			if err != nil {
				out = [][]byte{encodeCmdResult(CmdResult{Error: true, Message: err.Error()})}
				break
			}
			out = rep.encode()
		case TypeRequestBlock:
			blocked := rec.getBool()
			out = [][]byte{s.block(ctx, rec.getString(nameLen), blocked)}
		case TypeRequestRelease:
			out = [][]byte{s.release(ctx, rec.getUint32())}
		default:
			out = [][]byte{encodeCmdResult(CmdResult{Error: true, Message: fmt.Sprintf("неизвестный запрос %s", t)})}
		}

		for _, b := range out {
			if _, err := conn.Write(b); err != nil {
				s.logger.Debug("Admin: запись ответа", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *Server) block(ctx context.Context, iface string, blocked bool) []byte {
	if err := s.ctrl.SetBlocked(ctx, iface, blocked); err != nil {
		return encodeCmdResult(CmdResult{Error: true, Message: err.Error()})
	}
	s.logger.Info("Admin: блокировка", slog.String("interface", iface), slog.Bool("blocked", blocked))
	return encodeCmdResult(CmdResult{})
}

func (s *Server) release(ctx context.Context, ref uint32) []byte {
	found, err := s.ctrl.Release(ctx, ref)
	if err != nil {
		return encodeCmdResult(CmdResult{Error: true, Message: err.Error()})
	}
	if !found {
		return encodeCmdResult(CmdResult{Error: true, Message: fmt.Sprintf("ссылка %d не найдена", ref)})
	}
	s.logger.Info("Admin: освобождение", slog.Uint64("ref", uint64(ref)))
	return encodeCmdResult(CmdResult{})
}
