package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/clock"
	"live-quiz-engine/internal/config"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/infra/memory"
	pgstore "live-quiz-engine/internal/infra/postgres"
	redisinfra "live-quiz-engine/internal/infra/redis"
	"live-quiz-engine/internal/live"
	"live-quiz-engine/internal/scoring"
	transport "live-quiz-engine/internal/transport/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store app.SessionStore
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewStore(pool, db)
	} else {
		log.Warn("postgres not configured; using in-memory store with sample sessions")
		store = memory.NewStore(sampleDefinitions()...)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	definitionTTL := config.TTLDuration(cfg.Definitions.TTL, 10*time.Minute)
	var definitions app.DefinitionRepository
	var registry app.SessionRegistry
	if redisClient != nil {
		instanceID := cfg.Instance.ID
		if instanceID == "" {
			instanceID = uuid.NewString()
		}
		log.WithField("instance", instanceID).Info("using redis session leases")
		definitions = redisinfra.NewDefinitionCache(redisClient, store, definitionTTL)
		registry = redisinfra.NewRegistry(redisClient, instanceID, config.TTLDuration(cfg.Redis.TTL, 30*time.Second))
	} else {
		definitions = memory.NewDefinitionCache(store, definitionTTL)
		registry = memory.NewRegistry()
	}

	clk := clock.New()
	hub := live.NewHub(live.Options{
		Buffer: cfg.Engine.DeliveryBuffer,
		Policy: reconnectPolicy(cfg.Reconnect),
	}, clk, log)
	persister := app.NewPersister(store, persisterOptions(cfg.Store), log)
	engine := app.NewEngine(engineOptions(cfg.Engine), app.Deps{
		Registry:    registry,
		Definitions: definitions,
		Store:       store,
		Hub:         hub,
		Persister:   persister,
		Clock:       clk,
		Log:         log,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(engine, transport.RouterOptions{AuthSecret: cfg.Auth.Secret, Log: log}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	schedule := cfg.Reaper.Schedule
	if schedule == "" {
		schedule = "@every 5s"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", finalPort).Info("starting quiz engine")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return persister.Run(gctx)
	})
	g.Go(func() error {
		return app.RunReaper(gctx, schedule, engine, log)
	})

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if derr := persister.Drain(drainCtx); derr != nil {
		log.WithError(derr).WithField("queued", persister.Queued()).Warn("pending writes not flushed")
	}
	return err
}

func engineOptions(c config.Engine) app.Options {
	opts := app.DefaultOptions()
	opts.GracePeriod = config.TTLDuration(c.GracePeriod, opts.GracePeriod)
	opts.AllowRevision = c.AllowRevision
	opts.DefaultTimeLimit = config.TTLDuration(c.DefaultTimeLimit, opts.DefaultTimeLimit)
	opts.MaxDuration = config.TTLDuration(c.MaxDuration, 0)
	opts.Scoring = scoring.Policy{
		PartialCredit: c.PartialCredit,
		FuzzyText:     c.FuzzyText,
		FuzzyDistance: c.FuzzyDistance,
	}
	return opts
}

func persisterOptions(c config.Store) app.PersisterOptions {
	opts := app.DefaultPersisterOptions()
	opts.WriteTimeout = config.TTLDuration(c.WriteTimeout, opts.WriteTimeout)
	opts.RetryInitial = config.TTLDuration(c.RetryInitial, opts.RetryInitial)
	opts.RetryMax = config.TTLDuration(c.RetryMax, opts.RetryMax)
	return opts
}

func reconnectPolicy(c config.Reconnect) live.ReconnectPolicy {
	p := live.DefaultReconnectPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	p.InitialBackoff = config.TTLDuration(c.InitialBackoff, p.InitialBackoff)
	p.MaxBackoff = config.TTLDuration(c.MaxBackoff, p.MaxBackoff)
	return p
}

// sampleDefinitions is served when no database is configured.
func sampleDefinitions() []domain.SessionDefinition {
	return []domain.SessionDefinition{
		{
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionSingleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					Key:              domain.AnswerKey{Options: []string{"o2"}},
					Points:           decimal.NewFromInt(10),
					TimeLimitSeconds: 30,
				},
				{
					ID:               "q2",
					Type:             domain.QuestionFreeText,
					Prompt:           "Which planet is the largest in the solar system?",
					Key:              domain.AnswerKey{Accepted: []string{"Jupiter"}},
					Points:           decimal.NewFromInt(5),
					TimeLimitSeconds: 20,
				},
				{
					ID:     "q3",
					Type:   domain.QuestionOrdering,
					Prompt: "Order these numbers from smallest to largest.",
					Items:  []string{"7", "2", "5"},
					Key:    domain.AnswerKey{Order: []string{"2", "5", "7"}},
					Points: decimal.NewFromInt(5),
				},
			},
		},
	}
}
