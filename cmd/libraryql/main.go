package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vvakame/libraryql/catalog"
	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/config"
	"github.com/vvakame/libraryql/internal/graph"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/pubsub"
	"github.com/vvakame/libraryql/internal/ratelimit"
	"github.com/vvakame/libraryql/internal/server"
	"github.com/vvakame/libraryql/internal/store"
	"github.com/vvakame/libraryql/internal/store/badgerstore"
	"github.com/vvakame/libraryql/internal/store/mongostore"
	"github.com/vvakame/libraryql/internal/tracing"
)

func main() {
	err := realMain()
	if err != nil {
		stdlog.Fatal(err)
	}
}

func realMain() error {
	configPath := flag.String("config", os.Getenv("LIBRARYQL_CONFIG"), "path to a YAML config file")
	printSchema := flag.Bool("print-schema", false, "print the sorted schema SDL and exit")
	flag.Parse()

	if *printSchema {
		return graph.PrintSDL(os.Stdout, true)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(cfg.Log.Verbosity)
	ctx = log.WithLogger(ctx, logger)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error(err, "failed to shutdown tracing")
		}
	}()

	st, err := openStore(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Error(err, "failed to close store")
		}
	}()

	ttl, err := cfg.Auth.TTL()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}

	events := pubsub.New()
	defer events.Close()

	var catalogCfg catalog.Config
	catalogCfg.Config = graph.Config{
		Store:         st,
		Events:        events,
		Tokens:        tokens,
		LoginPassword: cfg.Auth.LoginPassword,
		LoginLimiter:  ratelimit.New(cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst),
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		catalogCfg.Tracer = tracing.Tracer()
	}
	es, err := catalog.New(ctx, &catalogCfg)
	if err != nil {
		logger.Error(err, "failed to execute catalog.New")
		return err
	}

	srv, err := server.New(server.Config{
		Schema:          es,
		Authenticator:   auth.NewAuthenticator(tokens, st),
		Logger:          logger,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		Playground:      cfg.HTTP.Playground,
		ComplexityLimit: cfg.HTTP.ComplexityLimit,
		Health: func(ctx context.Context) error {
			_, err := st.CountAuthors(ctx)
			return err
		},
	})
	if err != nil {
		return err
	}

	shutdownTimeout, err := cfg.HTTP.ShutdownDuration()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: srv,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("listening server", "addr", httpServer.Addr, "store", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx := context.Background()
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, shutdownTimeout)
			defer cancel()
		}
		// subscriptions end with the base context
		events.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func openStore(ctx context.Context, cfg *config.Store) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverBadger:
		return badgerstore.Open(ctx, cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
