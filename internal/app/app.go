// Package app assembles the service from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/directory"
	"github.com/unclebandit/campaign-mailer/internal/gateway"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// App holds the wired components shared by the binaries.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB         *sql.DB
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Accounts   repository.AccountRepositoryInterface

	// Queue is nil for the http dispatch driver.
	Queue      queue.Queue
	Dispatcher service.Dispatcher

	Service   *service.CampaignService
	Processor *service.Processor
	Sweeper   *service.Sweeper

	closers []func() error
}

// Options tweak New for callers that supply their own parts.
type Options struct {
	// Store replaces the Postgres repositories.
	Store *repository.MemoryStore
	// Sender replaces the configured gateway.
	Sender gateway.Sender
	// Directory replaces the configured directory client.
	Directory directory.Lister
}

// New connects storage and transport and builds the services.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openStorage(ctx, opts.Store); err != nil {
		return nil, err
	}
	if err := a.openDispatch(); err != nil {
		a.Close()
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		sender = newSender(cfg, log)
	}
	lister := opts.Directory
	if lister == nil {
		lister = directory.NewHTTPClient(cfg.DirectoryURL, cfg.DirectoryServiceKey)
	}

	a.Service = &service.CampaignService{
		CampaignRepo:  a.Campaigns,
		RecipientRepo: a.Recipients,
		AccountRepo:   a.Accounts,
		Directory:     lister,
		Dispatcher:    a.Dispatcher,
		PageSize:      cfg.DirectoryPageSize,
		Log:           log.With().Str("component", "campaigns").Logger(),
	}

	worker := &service.BatchWorker{
		CampaignRepo:  a.Campaigns,
		RecipientRepo: a.Recipients,
		Sender:        sender,
		BatchSize:     cfg.BatchSize,
		SendDelay:     cfg.SendDelay,
		Log:           log.With().Str("component", "worker").Logger(),
	}
	if cfg.SendRatePerSec > 0 {
		worker.Limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), 1)
	}

	a.Processor = &service.Processor{
		Worker: worker,
		Continuation: &service.Continuation{
			Dispatcher: a.Dispatcher,
			Log:        log.With().Str("component", "continuation").Logger(),
		},
		Budget: cfg.InvocationBudget,
	}

	a.Sweeper = &service.Sweeper{
		CampaignRepo:  a.Campaigns,
		RecipientRepo: a.Recipients,
		Dispatcher:    a.Dispatcher,
		ClaimTTL:      cfg.ClaimTTL,
		IdleAfter:     cfg.SweepIdle,
		Log:           log.With().Str("component", "sweeper").Logger(),
	}
	return a, nil
}

func (a *App) openStorage(ctx context.Context, store *repository.MemoryStore) error {
	if store == nil && a.Config.DatabaseURL == "" {
		a.Log.Warn().Msg("DATABASE_URL not set, using in-memory storage")
		store = repository.NewMemoryStore()
	}
	if store != nil {
		a.Campaigns, a.Recipients, a.Accounts = store.Campaigns, store.Recipients, store.Accounts
		return nil
	}

	conn, err := db.Open(ctx, a.Config.DatabaseURL)
	if err != nil {
		return err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	a.Campaigns = &repository.CampaignRepository{DB: conn}
	a.Recipients = &repository.RecipientRepository{DB: conn}
	a.Accounts = &repository.AccountRepository{DB: conn}
	return nil
}

func (a *App) openDispatch() error {
	cfg := a.Config
	log := a.Log.With().Str("component", "dispatch").Logger()

	switch cfg.DispatchDriver {
	case config.DispatchAMQP:
		q, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			return err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		a.Dispatcher = queue.NewDispatcher(q, cfg.AMQPQueue)
	case config.DispatchHTTP:
		// Covers the whole remote invocation so the response is still logged.
		timeout := cfg.InvocationBudget + 30*time.Second
		a.Dispatcher = queue.NewHTTPDispatcher(cfg.SelfURL, cfg.SelfToken, timeout, log)
	default:
		a.Queue = queue.NewInMemoryQueue(log)
		a.Dispatcher = queue.NewDispatcher(a.Queue, cfg.AMQPQueue)
	}
	log.Info().Str("driver", cfg.DispatchDriver).Msg("dispatch configured")
	return nil
}

func newSender(cfg *config.Config, log zerolog.Logger) gateway.Sender {
	if cfg.GatewayDriver == config.GatewayMock {
		return &gateway.MockSender{FailureRate: cfg.GatewayMockFailureRate, Log: log.With().Str("component", "gateway").Logger()}
	}
	return gateway.NewResendClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayFrom)
}

// StartConsumer runs batch jobs from the queue in this process.
func (a *App) StartConsumer() error {
	if a.Queue == nil {
		return errors.New("dispatch driver has no queue to consume")
	}
	return queue.StartBatchSubscriber(a.Queue, a.Config.AMQPQueue, a.Processor.RunJob,
		a.Log.With().Str("component", "consumer").Logger())
}

// StartSweeper schedules the recovery sweep when enabled.
func (a *App) StartSweeper(ctx context.Context) error {
	if !a.Config.SweepEnabled {
		return nil
	}
	_, err := a.Sweeper.Start(ctx, a.Config.SweepSchedule)
	if err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	return nil
}

// Router exposes the HTTP API.
func (a *App) Router() http.Handler {
	ctrl := &controller.CampaignController{
		CampaignService: a.Service,
		Processor:       a.Processor,
		Log:             a.Log.With().Str("component", "http").Logger(),
	}
	h := &handler.CampaignHandler{Service: a.Service, Log: a.Log.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireOperator(a.Config.Operators(), a.Log))
		r.Post("/create-campaign", ctrl.CreateCampaign)
		r.Post("/process-campaign-queue", ctrl.ProcessCampaignQueue)
		r.Get("/campaigns", h.ListCampaignsHandler)
		r.Get("/campaigns/{id}", h.GetCampaignHandler)
	})
	return r
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(ctx); err != nil {
			handler.Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// DrainTimeout bounds how long Shutdown waits for in-flight batches.
const DrainTimeout = 30 * time.Second

type drainer interface {
	Shutdown(ctx context.Context) error
}

// Shutdown stops queue consumers: the running batch is cancelled, hands its
// unattempted rows back to pending and is waited for up to DrainTimeout.
func (a *App) Shutdown(ctx context.Context) error {
	d, ok := a.Queue.(drainer)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DrainTimeout)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		return err
	}
	a.Log.Info().Msg("queue consumers drained")
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
