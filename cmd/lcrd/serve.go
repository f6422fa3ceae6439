package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/callrouter/pkg/admin"
	"github.com/arzzra/callrouter/pkg/bchannel"
	"github.com/arzzra/callrouter/pkg/call"
	"github.com/arzzra/callrouter/pkg/config"
	"github.com/arzzra/callrouter/pkg/logger"
	"github.com/arzzra/callrouter/pkg/metrics"
	"github.com/arzzra/callrouter/pkg/router"
	"github.com/arzzra/callrouter/pkg/rtp"
	"github.com/arzzra/callrouter/pkg/sip_signaling"
	"github.com/arzzra/callrouter/pkg/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить SIP-порт",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	sink := trace.NewFileSink(cfg.Trace)
	defer sink.Close()

	var coll *metrics.Collector
	if cfg.Metrics.Enabled {
		coll = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
	}

	hw := bchannel.NewLoopback()
	hw.Attach(cfg.BChannel.Interfaces)
	channels := bchannel.NewManager(hw, cfg.BChannel.Interfaces, coll, log)

	ports, err := rtp.NewPortPool(cfg.RTP.PortBase)
	if err != nil {
		return err
	}

	remoteIP := cfg.SIP.Remote
	if host, _, err := net.SplitHostPort(cfg.SIP.Remote); err == nil {
		remoteIP = host
	}

	r, err := router.New(router.Options{
		Law:               cfg.LawValue(),
		LocalIP:           cfg.SIP.LocalIP,
		RemoteIP:          remoteIP,
		Socket:            cfg.Routing.Socket,
		AppName:           cfg.Routing.AppName,
		ReconnectInterval: cfg.Routing.ReconnectInterval,
		WriteTimeout:      cfg.Routing.WriteTimeout,
		PollInterval:      cfg.BChannel.PollInterval,
		Ports:             ports,
		Channels:          channels,
		Tracer:            trace.New(sink),
		Metrics:           coll,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	gw, err := sip_signaling.New(cfg.SIP, r.Post, func(s *sip_signaling.Session, inv call.Invite) {
		r.Incoming(s, inv)
	}, log)
	if err != nil {
		return err
	}
	defer gw.Close()
	r.UseDialer(gw)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return r.Run(ctx) })
	eg.Go(func() error { return gw.Serve(ctx) })

	ctrl := admin.NewRouterController(r, admin.Info{Version: version, LogFile: cfg.Log.File})
	srv := admin.NewServer(cfg.Admin.Socket, ctrl, log)
	eg.Go(func() error { return srv.Serve(ctx) })

	if coll != nil {
		eg.Go(func() error { return serveMetrics(ctx, cfg.Metrics, coll, log) })
	}

	log.Info("lcrd запущен", slog.String("version", version), slog.String("sip", cfg.SIP.Listen))
	err = eg.Wait()
	log.Info("lcrd остановлен")
	return err
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, coll *metrics.Collector, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(coll.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Info("Сервер метрик запущен", slog.String("addr", cfg.Listen), slog.String("path", cfg.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
