package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/push-dispatcher/internal/channel"
	"github.com/aliskhannn/push-dispatcher/internal/config"
	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/rabbitmq/publisher"
	"github.com/aliskhannn/push-dispatcher/internal/redis/cache"
	notifhandler "github.com/aliskhannn/push-dispatcher/internal/redis/handlers/notification"
	"github.com/aliskhannn/push-dispatcher/internal/redis/queue"
	notifsvc "github.com/aliskhannn/push-dispatcher/internal/service/notification"
	"github.com/aliskhannn/push-dispatcher/internal/worker"
	"github.com/aliskhannn/push-dispatcher/pkg/email"
	"github.com/aliskhannn/push-dispatcher/pkg/expo"
)

const usage = `usage: notifier [command]

commands:
  run                      start the delivery workers (default)
  create                   store and schedule notifications read as JSON from stdin
  get <id>                 print a notification
  read <id>                record the read receipt of a notification
  list <user-id> [limit]   print a user's notifications, newest first
  stats                    print job counts per state
  failed [limit]           list jobs that ran out of attempts
  retry <job-id>           move a failed job back to the wait list`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()

	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       redisDB(cfg),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close redis client")
		}
	}()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	q := queue.New(rdb, cfg.Queue.Name, queue.Options{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
		Lease:       cfg.Queue.Lease,
		MaxStalled:  cfg.Queue.MaxStalled,
	})

	var err error
	switch command {
	case "run":
		run(ctx, cfg, q)
	case "create", "get", "read", "list":
		err = manage(ctx, cfg, q, command, os.Args[2:])
	case "stats":
		err = printStats(ctx, q)
	case "failed":
		err = printFailed(ctx, q, os.Args[2:])
	case "retry":
		err = retryJob(ctx, q, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

type app struct {
	service *notifsvc.Service
	close   func()
}

// newApp opens the store, the status cache and the optional event publisher
// and builds the notification service on top of them.
func newApp(ctx context.Context, cfg *config.Config, q *queue.Queue) *app {
	store, err := openStore(ctx, cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open notification store")
	}

	closers := []func(){store.close}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, redisDB(cfg))
	closers = append(closers, func() {
		if err := rdb.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close redis cache client")
		}
	})

	var events interface {
		Publish(event model.Event) error
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}

		ch, err := conn.Channel()
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
		}
		closers = append(closers, func() {
			if err := ch.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
			}
			if err := conn.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
			}
		})

		pub, err := publisher.NewEventPublisher(ch, publisher.Topology{
			Exchange:   cfg.RabbitMQ.Exchange,
			Queue:      cfg.RabbitMQ.Queue,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		}, cfg.Retry)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create event publisher")
		}

		events = pub
	}

	router := channel.NewRouter(buildChannels(cfg, store.subscriptions)...)
	for _, ch := range router.Channels() {
		zlog.Logger.Info().Str("channel", ch.Name()).Msg("delivery channel enabled")
	}

	service := notifsvc.NewService(store.notifications, router, q, cache.New(rdb, cfg.Redis.StatusTTL), events, notifsvc.Options{
		Lease:    cfg.Store.Lease,
		Strategy: cfg.Retry,
	})

	return &app{
		service: service,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}
}

func manage(ctx context.Context, cfg *config.Config, q *queue.Queue, command string, args []string) error {
	a := newApp(ctx, cfg, q)
	defer a.close()

	switch command {
	case "create":
		return createNotifications(ctx, a.service, os.Stdin, os.Stdout)
	case "get":
		return getNotification(ctx, a.service, args, os.Stdout)
	case "read":
		return markRead(ctx, a.service, args, os.Stdout)
	default:
		return listNotifications(ctx, a.service, args, os.Stdout)
	}
}

func run(ctx context.Context, cfg *config.Config, q *queue.Queue) {
	a := newApp(ctx, cfg, q)
	defer a.close()

	handler := notifhandler.NewHandler(a.service)
	dispatcher := worker.NewDispatcher(q, handler, cfg.Workers.Count, cfg.Workers.PollInterval)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.ReportStats(ctx, cfg.Workers.StatsEvery)
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zlog.Logger.Info().Msg("workers stopped")
	case <-time.After(30 * time.Second):
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}
}

func buildChannels(cfg *config.Config, subs channel.SubscriptionStore) []channel.Channel {
	channels := []channel.Channel{
		channel.NewTokenPush(expo.NewClient(cfg.Expo.Endpoint, cfg.Expo.AccessToken, cfg.Expo.Timeout)),
	}

	if cfg.WebPush.Enabled {
		channels = append(channels, channel.NewSubscriptionPush(subs, channel.VAPID{
			Subscriber: cfg.WebPush.Subscriber,
			PublicKey:  cfg.WebPush.VAPIDPublicKey,
			PrivateKey: cfg.WebPush.VAPIDPrivateKey,
			TTL:        cfg.WebPush.TTL,
		}, cfg.WebPush.Timeout))
	}

	if cfg.Email.Enabled() {
		channels = append(channels, channel.NewMail(email.NewClient(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
		)))
	}

	return channels
}

func redisDB(cfg *config.Config) int {
	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	return dbNum
}

func printStats(ctx context.Context, q *queue.Queue) error {
	counts, err := q.Counts(ctx)
	if err != nil {
		return err
	}

	return printJSON(os.Stdout, counts)
}

func printFailed(ctx context.Context, q *queue.Queue, args []string) error {
	limit := int64(50)
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parse limit: %w", err)
		}
		limit = n
	}

	jobs, err := q.FailedJobs(ctx, limit)
	if err != nil {
		return err
	}

	return printJSON(os.Stdout, jobs)
}

func retryJob(ctx context.Context, q *queue.Queue, args []string) error {
	if len(args) != 1 {
		return errors.New("retry expects exactly one job id")
	}

	if err := q.Retry(ctx, args[0]); err != nil {
		return err
	}

	zlog.Logger.Info().Str("job", args[0]).Msg("job moved back to the wait list")

	return nil
}
