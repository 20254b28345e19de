package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
	kafkabroker "campusfound/internal/infra/broker/kafka"
	"campusfound/internal/infra/config"
	mongodb "campusfound/internal/infra/db/mongo"
	ginserver "campusfound/internal/infra/http/gin"
	"campusfound/internal/infra/obs"
	"campusfound/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	identity := memory.NewIdentityResolver(deps.profiles)
	for token, userID := range cfg.AuthTokens {
		identity.Grant(token, userID)
	}
	auth := ginserver.AuthMiddleware{Resolver: identity, Logger: logger}

	chatHandler := ginserver.ChatHandler{
		Store:     deps.store,
		Profiles:  deps.profiles,
		Listings:  deps.listings,
		Publisher: deps.publisher,
		Logger:    logger,
	}
	streamHandler := ginserver.NewStreamHandler(deps.store, deps.profiles, deps.listings, deps.publisher, logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Checks: deps.checks,
	}, ginserver.Handlers{
		Chat:           chatHandler,
		Stream:         streamHandler,
		AuthMiddleware: auth.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreMode, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type dependencies struct {
	store     appchat.Store
	profiles  appchat.ProfileReader
	listings  appchat.ListingReader
	publisher appchat.EventPublisher
	checks    []obs.HealthCheck
}

func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (dependencies, func(), error) {
	var deps dependencies
	cleanups := make([]func(), 0, 2)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch cfg.StoreMode {
	case config.StoreMongo:
		client, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoTimeout)
		if err != nil {
			return dependencies{}, cleanup, fmt.Errorf("connect to mongo: %w", err)
		}
		cleanups = append(cleanups, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		})
		store := mongodb.NewChatStore(client.DB, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			return dependencies{}, cleanup, fmt.Errorf("ensure indexes: %w", err)
		}
		deps.store = store
		deps.profiles = mongodb.NewProfileReader(client.DB)
		deps.listings = mongodb.NewListingReader(client.DB)
		deps.checks = append(deps.checks, obs.HealthCheck{Name: "mongo", Probe: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}})
		logger.Info("mongo connected", "db", cfg.MongoDB)
	default:
		store := memory.NewStore()
		profiles := memory.NewProfileRepository()
		listings := memory.NewListingRepository()
		if cfg.FixturesPath != "" {
			if err := loadFixtures(cfg.FixturesPath, profiles, listings, logger); err != nil {
				logger.Warn("fixtures load failed", "error", err, "path", cfg.FixturesPath)
			}
		}
		deps.store = store
		deps.profiles = profiles
		deps.listings = listings
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafkabroker.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, nil)
		if err != nil {
			return dependencies{}, cleanup, fmt.Errorf("connect to kafka: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka close failed", "error", err)
			}
		})
		deps.publisher = producer
		logger.Info("kafka producer connected", "brokers", cfg.KafkaBrokers)
	}

	return deps, cleanup, nil
}

type fixtureFile struct {
	Profiles []profileFixture `json:"profiles"`
	Listings []listingFixture `json:"listings"`
}

type profileFixture struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type listingFixture struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	PosterID string `json:"poster_id"`
}

// loadFixtures seeds the in-memory projections for dev mode.
func loadFixtures(path string, profiles *memory.ProfileRepository, listings *memory.ListingRepository, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures fixtureFile
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, p := range fixtures.Profiles {
		profiles.Save(domainchat.Profile{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName})
	}
	for _, l := range fixtures.Listings {
		listings.Save(domainchat.Listing{ID: l.ID, Title: l.Title, PosterID: l.PosterID})
	}
	logger.Info("fixtures imported", "profiles", len(fixtures.Profiles), "listings", len(fixtures.Listings))
	return nil
}
