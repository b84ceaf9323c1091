package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/identity/assertion"
	"github.com/jrsteele09/wastekonnect-admin/identity/bus"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory/postgres"
	fakeaccountrepo "github.com/jrsteele09/wastekonnect-admin/identity/directory/repofake"
	"github.com/jrsteele09/wastekonnect-admin/identity/federation"
	"github.com/jrsteele09/wastekonnect-admin/identity/provider"
	"github.com/jrsteele09/wastekonnect-admin/internal/config"
	"github.com/jrsteele09/wastekonnect-admin/login/handshakerepo"
	"github.com/jrsteele09/wastekonnect-admin/metrics"
	"github.com/jrsteele09/wastekonnect-admin/server"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

// backends are the stores the console runs on, released in reverse order on shutdown.
type backends struct {
	bus        bus.Bus
	accounts   directory.Repo
	handshakes handshakerepo.Repo
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx := context.Background()
	b, err := openBackends(ctx, c)
	if err != nil {
		return err
	}
	defer b.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	svc, err := newProviderService(ctx, c, b)
	if err != nil {
		return err
	}

	store := session.NewStore(session.WithMetrics(collector))
	defer func() {
		if err := store.Close(); err != nil {
			log.Err(err).Msg("Failed to close session store")
		}
	}()
	if err := store.Start(ctx, svc); err != nil {
		return fmt.Errorf("session store start: %w", err)
	}

	handler, err := server.New(c, server.Deps{
		Store:      store,
		Provider:   svc,
		Accounts:   b.accounts,
		Handshakes: b.handshakes,
		Gatherer:   registry,
		Metrics:    collector,
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// openBackends selects Redis and Postgres when configured, in-process stores otherwise.
func openBackends(ctx context.Context, c config.Config) (*backends, error) {
	b := &backends{}

	if url := c.GetDatabaseURL(); url != "" {
		if c.GetRunMigrations() {
			if err := postgres.RunMigrations(url); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.accounts = postgres.NewAccountRepo(pool)
		log.Info().Msg("Staff accounts stored in Postgres")
	} else {
		b.accounts = fakeaccountrepo.NewFakeAccountRepo()
		log.Warn().Msg("DATABASE_URL not set, staff accounts are kept in memory")
	}

	if url := c.GetRedisURL(); url != "" {
		client, err := openRedis(ctx, url)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })

		key := c.GetAssertionKey()
		if key == "" {
			b.close()
			return nil, errors.New("ASSERTION_KEY is required when REDIS_URL is set")
		}
		signer, err := assertion.NewSigner([]byte(key), c.GetBaseURL(), c.GetAssertionTTL())
		if err != nil {
			b.close()
			return nil, err
		}
		prefix := c.GetRedisPrefix()
		b.bus = bus.NewRedis(client, signer, prefix+":session")
		b.handshakes = handshakerepo.NewRedisRepo(client, prefix+":handshake", c.GetHandshakeTTL())
		log.Info().Msg("Session changes shared over Redis")
	} else {
		b.bus = bus.NewMemory()
		b.handshakes = handshakerepo.NewInMemoryRepo(c.GetHandshakeTTL())
	}
	return b, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newProviderService(ctx context.Context, c config.Config, b *backends) (*provider.Service, error) {
	opts := []provider.ServiceOption{
		provider.WithAttemptLimiter(provider.NewAttemptLimiter(
			rate.Limit(c.GetLoginAttemptsPerMinute()/60.0), c.GetLoginAttemptBurst())),
	}

	if clientID := c.GetGoogleClientID(); clientID != "" {
		google, err := federation.NewOIDC(ctx, federation.Config{
			Descriptor:   identity.Google,
			Issuer:       c.GetGoogleIssuer(),
			ClientID:     clientID,
			ClientSecret: c.GetGoogleClientSecret(),
			RedirectURL:  server.ProviderCallbackURL(c.GetBaseURL(), identity.Google.Name),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, provider.WithFederation(google))
		log.Info().Msg("Google sign-in enabled")
	}

	return provider.NewService(b.accounts, b.bus, opts...)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
