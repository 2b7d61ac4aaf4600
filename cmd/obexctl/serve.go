package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/obexgo/internal/admin"
	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/config"
	"github.com/danmuck/obexgo/internal/inbox"
	"github.com/danmuck/obexgo/internal/observability"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/server"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory over OBEX push and folder browsing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(rootFlags.config, rootFlags.overlay)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serviceConfig maps file config onto the runtime service. A configured
// token must be matched by the presented one before the listener binds.
func serviceConfig(cfg config.ServerConfig, presented string) server.ServiceConfig {
	svc := server.DefaultServiceConfig()
	svc.Name = cfg.Name
	svc.Kind = cfg.Kind()
	svc.Addr = cfg.Addr
	svc.Transport = transport.Options{MaxPacketSize: cfg.MaxPacketSize}
	svc.Session = session.Config{
		MaxPacketSize:   cfg.MaxPacketSize,
		ResponseTimeout: cfg.ResponseTimeout.Duration,
		Reporter:        observability.NewSessionReporter(log.Logger, cfg.Name),
	}
	svc.Observer = observability.NewTrafficObserver(log.Logger, cfg.Name)
	if strings.TrimSpace(cfg.Token) != "" {
		svc.Permission = auth.StaticToken{Token: cfg.Token}
		svc.Token = presented
	}
	if allow := normalizeList(cfg.Allow); len(allow) > 0 {
		svc.Admit = auth.Allowlist{Patterns: allow}
	}
	return svc
}

func runServer(ctx context.Context, cfg config.ServerConfig) error {
	observability.RegisterMetrics()
	store, err := inbox.New(inbox.Options{
		Root:           cfg.Root,
		ReadOnly:       cfg.ReadOnly,
		AllowCreate:    cfg.AllowCreate,
		MaxObjectBytes: cfg.MaxObjectBytes,
	})
	if err != nil {
		return err
	}
	svc := server.NewService(serviceConfig(cfg, presentedToken()), func() session.Handler { return store.Handler() })
	n, err := svc.Listen()
	if err != nil {
		return err
	}
	log.Info().
		Str("service", cfg.Name).
		Str("root", store.Root()).
		Str("addr", n.Addr()).
		Int("port", n.LocalPort()).
		Msg("obexctl_serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Serve(gctx, n)
	})
	if cfg.Admin.Enabled {
		adm := admin.New(cfg.Admin.Addr, svc, cfg.Admin.CorsOrigins)
		g.Go(func() error {
			return adm.Serve(gctx)
		})
	}
	return g.Wait()
}
