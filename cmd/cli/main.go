package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nimasrn/school-notify/internal/config"
	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/pg"
	"github.com/nimasrn/school-notify/pkg/redis"
)

const usage = `usage:
  cli [--env=.env] [--dir=./migrations] migrate [up|down|status|redo]
  cli [--env=.env] dlq list [count]
  cli [--env=.env] dlq replay [count]`

func main() {
	envPath := flag.String("env", "", "env file to load")
	dir := flag.String("dir", "./migrations", "goose migrations directory")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	path := *envPath
	if path == "" {
		if _, err := os.Stat(".env"); err == nil {
			path = ".env"
		}
	}
	if err := config.Load(path); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var err error
	switch flag.Arg(0) {
	case "migrate", "":
		err = migrate(*dir, flag.Arg(1))
	case "dlq":
		err = deadLetters(flag.Arg(1), flag.Arg(2))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func migrate(dir, command string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("migrations directory %s: %w", dir, err)
	}
	cfg := config.Get()
	return pg.Migrate(pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}, dir, command)
}

func deadLetters(action, countArg string) error {
	var count int64 = 20
	if countArg != "" {
		n, err := strconv.ParseInt(countArg, 10, 64)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count %q", countArg)
		}
		count = n
	}

	cfg := config.Get()
	adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-cli",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	q, err := queue.NewQueue(adapter, queue.QueueConfig{
		Name:          cfg.QueueName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  cfg.QueueConsumerName + "-cli",
		MaxLen:        cfg.QueueMaxLen,
		EnableDLQ:     cfg.QueueEnableDLQ,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch action {
	case "list", "":
		letters, err := q.DeadLetters(ctx, count)
		if err != nil {
			return err
		}
		for _, dl := range letters {
			fmt.Printf("%s\t%s\tattempts=%d\tfailed_at=%s\t%s\n",
				dl.ID, dl.OriginalID, dl.Attempts, dl.FailedAt.UTC().Format(time.RFC3339), dl.Data)
		}
		return nil
	case "replay":
		moved, err := q.Replay(ctx, count)
		fmt.Printf("replayed %d message(s) onto %s\n", moved, q.Name())
		return err
	default:
		return fmt.Errorf("unknown dlq action %q", action)
	}
}
