package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aliskhannn/push-dispatcher/internal/channel"
	"github.com/aliskhannn/push-dispatcher/internal/config"
	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/repository/mongorepo"
	notifrepo "github.com/aliskhannn/push-dispatcher/internal/repository/notification"
	subrepo "github.com/aliskhannn/push-dispatcher/internal/repository/subscription"
	"github.com/aliskhannn/push-dispatcher/migrations"
)

type notificationStore interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	FindByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error)
	UpdateByID(ctx context.Context, id uuid.UUID, patch model.Patch) (model.Notification, error)
	ClaimDelivery(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)
	CompleteDelivery(ctx context.Context, id uuid.UUID, sentAt time.Time, sendError *string) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, sendError *string) error
}

type stores struct {
	notifications notificationStore
	subscriptions channel.SubscriptionStore
	close         func()
}

func openStore(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Backend == config.BackendMongo {
		return openMongo(ctx, cfg)
	}

	return openPostgres(ctx, cfg)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*stores, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := migrations.Up(ctx, db.Master); err != nil {
			return nil, err
		}
		zlog.Logger.Info().Msg("database migrations applied")
	}

	return &stores{
		notifications: notifrepo.NewRepository(db),
		subscriptions: subrepo.NewRepository(db),
		close: func() {
			if err := db.Master.Close(); err != nil {
				zlog.Logger.Printf("failed to close master DB: %v", err)
			}

			for i, s := range db.Slaves {
				if err := s.Close(); err != nil {
					zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
				}
			}
		},
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*stores, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.Mongo.URI).
		SetConnectTimeout(cfg.Mongo.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Mongo.Database)

	repo := mongorepo.NewRepository(db.Collection(cfg.Mongo.Collection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	return &stores{
		notifications: repo,
		subscriptions: mongorepo.NewSubscriptionRepository(db.Collection(cfg.Mongo.Subscriptions)),
		close: func() {
			if err := client.Disconnect(context.Background()); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to disconnect from mongo")
			}
		},
	}, nil
}
