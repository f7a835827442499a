package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgepipe/internal/admin"
	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/config"
	"github.com/danmuck/edgepipe/internal/logging"
	"github.com/danmuck/edgepipe/internal/observability"
	"github.com/danmuck/edgepipe/internal/pipe"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/pipectl/config.toml", "pipe config (see configgen -kind listen|dial)")
	runtimePath := flag.String("runtime", "", "optional runtime tuning file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("pipectl")

	cfg, err := config.LoadPipeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}
	rt, err := loadRuntimeConfig(*runtimePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, rt); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.PipeConfig, rt runtimeConfig) error {
	opts, local, err := cfg.PipeOptions()
	if err != nil {
		return err
	}

	ws, err := openChannel(ctx, cfg, local, opts.Target)
	if err != nil {
		return err
	}
	defer ws.Close()

	diag := observability.DiagnosticsLogger(cfg.Name)
	opts.Channel = ws
	opts.ProbeInterval = rt.ProbeInterval
	opts.ReapInterval = rt.ReapInterval
	opts.IDs = rt.ids()
	opts.Diagnostics = &diag
	opts.Handlers = pipe.Handlers{
		OnConnected: func(p *pipe.Pipe) {
			log.Info().Str("pipe", p.Name()).Str("target", p.Target().String()).Msg("pipe connected")
		},
	}
	if cfg.Echo {
		opts.Handlers.OnReceived = echoResponder
	}
	p := pipe.New(opts)
	defer p.Dispose()

	connected, err := p.Connect()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ws.Done():
			return fmt.Errorf("channel to %s closed", opts.Target)
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		if _, err := connected.Wait(gctx); err != nil {
			return fmt.Errorf("connect %s: %w", opts.Target, err)
		}
		if rt.PingInterval <= 0 {
			return nil
		}
		return pingLoop(gctx, p, rt)
	})
	if cfg.AdminAddr != "" {
		srv := adminServer(cfg, rt, p)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	err = g.Wait()
	log.Info().Str("pipe", cfg.Name).Err(err).Msg("pipectl stopping")
	return err
}

func adminServer(cfg config.PipeConfig, rt runtimeConfig, p admin.Pipe) *admin.Server {
	srv := admin.New(cfg.Name, cfg.AdminAddr, p, cfg.CorsOrigins)
	srv.ShutdownGrace = rt.ShutdownGrace
	return srv
}

// openChannel dials the peer, or accepts the first websocket whose Origin
// names the configured target.
func openChannel(ctx context.Context, cfg config.PipeConfig, local, target channel.Identity) (*channel.WebSocket, error) {
	if !cfg.IsListener() {
		return channel.DialWebSocket(ctx, cfg.DialConfig(local, target))
	}

	acceptor := channel.NewAcceptor(local)
	defer acceptor.Close()
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, acceptor)
	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.Listen).Msg("pipe listener failed")
			acceptor.Close()
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", cfg.Listen).Str("path", cfg.Path).Msg("waiting for peer")
	for {
		ws, err := acceptor.Accept(ctx)
		if err != nil {
			return nil, err
		}
		if ws.Remote() == target {
			return ws, nil
		}
		log.Warn().Str("origin", ws.Remote().String()).Str("want", target.String()).Msg("rejecting websocket from unexpected origin")
		ws.Close()
	}
}
