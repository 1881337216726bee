package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/notify"
	"github.com/xenking/marketplace/internal/notify/email"
	"github.com/xenking/marketplace/internal/notify/events"
	"github.com/xenking/marketplace/internal/notify/telegram"
	"github.com/xenking/marketplace/internal/storage/postgres"
	redisstore "github.com/xenking/marketplace/internal/storage/redis"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Server is the fully wired application: storage, domain services and the
// HTTP surface.
type Server struct {
	lg         *zap.Logger
	handler    http.Handler
	health     *health.Health
	limiter    *httpmiddleware.RateLimiter
	dispatcher *notify.Dispatcher
	closers    []func()
}

// New creates all dependencies. Close releases them.
func New(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *Server, rerr error) {
	s := &Server{lg: lg}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	if err := postgres.RunMigrations(pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	s.health = health.New()
	s.health.Live("goroutines", health.GoroutineCheck(10000))
	s.health.Ready("postgres", health.PingCheck(pool))

	carts, err := newCartBackend(cfg.Cart)
	if err != nil {
		return nil, errors.Wrap(err, "create cart store")
	}
	s.closers = append(s.closers, func() { _ = carts.Close() })
	if carts.ping != nil {
		s.health.Ready("redis", carts.ping)
	}
	lg.Info("Cart store", zap.String("backend", cfg.Cart.Backend))

	channels, closeChannels := notifyChannels(cfg.Notify, &http.Client{Timeout: cfg.Notify.Timeout})
	s.closers = append(s.closers, func() {
		if err := closeChannels(); err != nil {
			lg.Warn("Close notification channels", zap.Error(err))
		}
	})
	s.dispatcher = notify.NewDispatcher(cfg.Notify.Timeout, channels...)
	lg.Info("Notification channels", zap.Strings("channels", s.dispatcher.Channels()))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	cartService := cart.NewService(carts.store, productRepo)
	orderService, err := order.NewService(productRepo, carts.store, orderRepo, s.dispatcher,
		order.WithMeterProvider(mp),
		order.WithTracerProvider(tp),
		order.WithKeyFilter(order.NewKeyFilter(cfg.Orders.KeyFilterCapacity, cfg.Orders.KeyFilterFPR)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.New(handler.Config{
		SessionCookie: cfg.Session.CookieName,
		SessionSecure: cfg.Session.Secure,
		SessionMaxAge: cfg.Session.MaxAge,
		JWTSecret:     []byte(cfg.JWTSecret),
		APIKeyPepper:  []byte(cfg.APIKeyPepper),
	}, cartService, orderService, apikeyRepo)

	trusted, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}
	s.limiter = httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		RPS:            cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		TrustedProxies: trusted,
	})

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", s.health.LiveEndpoint)
	mux.HandleFunc("/readyz", s.health.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(h.Routes(), s.limiter.Middleware()))

	s.handler = otelhttp.NewHandler(
		httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.Logger(lg),
			httpmiddleware.Recovery(),
		),
		"marketplace-api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)
	s.health.SetReady(true)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Close waits briefly for in-flight notifications and releases resources
// in reverse order of acquisition.
func (s *Server) Close() {
	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.dispatcher.Wait(ctx); err != nil {
			s.lg.Warn("Pending notifications abandoned", zap.Error(err))
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	s, err := New(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.limiter.Run(gctx); !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "rate limiter")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: drop readiness, drain, then stop.
		<-gctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := s.dispatcher.Wait(shutdownCtx); err != nil {
			lg.Warn("Pending notifications abandoned", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// cartBackend is the configured cart store plus its lifecycle hooks.
type cartBackend struct {
	store cart.Store
	ping  health.CheckFunc
	close func() error
}

func (b *cartBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func newCartBackend(cfg CartConfig) (*cartBackend, error) {
	switch cfg.Backend {
	case "memory":
		return &cartBackend{store: cart.NewMemoryStore()}, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		store := redisstore.NewCartStore(client, cfg.TTL)
		return &cartBackend{
			store: store,
			ping:  health.PingCheck(store),
			close: client.Close,
		}, nil
	default:
		return nil, errors.Errorf("unknown cart backend %q", cfg.Backend)
	}
}

// notifyChannels builds every channel that has a destination configured.
// The returned func releases channel resources.
func notifyChannels(cfg NotifyConfig, httpClient *http.Client) ([]notify.Channel, func() error) {
	var (
		channels []notify.Channel
		closers  []func() error
	)

	emailCfg := email.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
	}
	if emailCfg.Enabled() {
		channels = append(channels, email.New(emailCfg))
	}

	chatCfg := telegram.Config{
		Token:  cfg.Chat.Token,
		ChatID: cfg.Chat.ChatID,
		APIURL: cfg.Chat.APIURL,
	}
	if chatCfg.Enabled() {
		channels = append(channels, telegram.New(chatCfg, httpClient))
	}

	if brokers := events.ParseBrokers(cfg.Events.Brokers); len(brokers) > 0 && cfg.Events.Topic != "" {
		pub := events.New(events.NewWriter(brokers, cfg.Events.Topic))
		channels = append(channels, pub)
		closers = append(closers, pub.Close)
	}

	return channels, func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}
