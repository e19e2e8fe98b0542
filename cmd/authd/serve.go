package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-franchise-auth/activitymap"
	"github.com/goliatone/go-franchise-auth/config"
	"github.com/goliatone/go-franchise-auth/middleware/jwtware"
	"github.com/goliatone/go-franchise-auth/repository"
)

func newServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if debug {
				fmt.Println(print.MaybePrettyJSON(cfg.Redacted()))
			}

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			app, err := newApp(cfg, repository.NewManager(db), reg, debug)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				_ = app.Shutdown()
			}()

			return app.Listen(cfg.Server.Addr)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "print the effective configuration and log request payloads")
	return cmd
}

// newApp wires the engine over the repository manager and mounts the HTTP
// API and the metrics endpoint.
func newApp(cfg config.Config, m repository.Manager, reg *prometheus.Registry, debug bool) (*fiber.App, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	logger := auth.NewLogger()
	metrics := auth.NewMetrics(reg)

	hasher, err := auth.NewPasswordHasherFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg, m.Tenants(), m.RefreshTokens(),
		auth.WithTokenLogger(logger),
		auth.WithTokenMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	resolver := auth.NewPermissionResolver(m.Permissions(),
		auth.WithResolverCache(auth.NewPermissionCache(cfg.GetPermissionCacheTTL())),
		auth.WithResolverLogger(logger),
		auth.WithResolverPlatformTenant(cfg.GetPlatformTenantID()),
	)

	authn := auth.NewAuthenticator(cfg, m.Users(), hasher, tokens, resolver).
		WithLogger(logger).
		WithMetrics(metrics).
		WithFailedLoginRecorder(m.FailedLogins()).
		WithActivitySink(activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
			logger.Info("activity", "verb", record.Verb, "actor", record.ActorID, "metadata", record.Metadata)
			return nil
		}))

	controller := auth.NewAuthController(authn,
		auth.WithControllerConfig(cfg),
		auth.WithControllerLogger(logger),
		auth.WithControllerDebug(debug),
	)

	guard := jwtware.Config{
		TokenValidator: tokens,
		Resolver:       resolver,
		ErrorHandler:   controller.ErrorHandler,
	}
	optional := guard
	optional.Optional = true

	app := fiber.New(fiber.Config{
		AppName:               "authd",
		ErrorHandler:          controller.ErrorHandler,
		DisableStartupMessage: !debug,
	})

	app.Get(cfg.Server.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	var api fiber.Router = app
	if cfg.Server.APIPrefix != "" {
		api = app.Group(cfg.Server.APIPrefix)
	}

	auth.RegisterAuthRoutes(api, controller, auth.RouteGuards{
		Protected: jwtware.New(guard),
		Optional:  jwtware.New(optional),
	})

	return app, nil
}
