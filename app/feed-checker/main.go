package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/busstate/app/feed-checker/checker"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/foundation/database"
	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/ardanlabs/conf"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "FEED_CHECKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			MaxOpenConns int    `conf:"default:2" validate:"gte=0"`
		}
		GTFS struct {
			Url       string        `conf:"default:https://webapps.regionofwaterloo.ca/api/grt-routes/api/staticfeeds/0" validate:"required,url"`
			Timeout   time.Duration `conf:"default:5m" validate:"gt=0"`
			LegacyTLS bool          `conf:"default:true"`
			UserAgent string        `conf:"default:Mozilla/5.0 (compatible; busstate-checker)"`
			MinStops  int           `conf:"default:2000" validate:"gt=0"`
		}
		NATS struct {
			Url          string `conf:"default:nats://localhost:4222" validate:"required"`
			JobSubject   string `conf:"default:busstate.jobs" validate:"required"`
			EventSubject string `conf:"default:busstate.events" validate:"required"`
		}
		CheckEvery  time.Duration `conf:"default:1h" validate:"gt=0"`
		MetricsAddr string        `conf:"help:listen address for prometheus metrics or empty to disable"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Detect new static gtfs feeds, validate them and trigger indexing"
	if err := conf.Parse(os.Args[1:], "FEED_CHECKER", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("FEED_CHECKER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("FEED_CHECKER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	command := cfg.Args.Num(0)
	if len(command) == 0 {
		fmt.Println("check: check the static feed once")
		fmt.Println("loop: check the static feed every CheckEvery")
		usage, err := conf.Usage("FEED_CHECKER", &cfg)
		if err != nil {
			return fmt.Errorf("generating config usage: %w", err)
		}
		fmt.Println(usage)
		return nil
	}

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.Open(database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		DisableTLS:   cfg.DB.DisableTLS,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewPostgres(log, db)
	if err = store.Migrate(ctx); err != nil {
		return err
	}

	collector := metrics.New()
	if srv := collector.Serve(log, cfg.MetricsAddr); srv != nil {
		defer func() {
			_ = srv.Close()
		}()
	}

	natsConn, err := eventbus.Connect(log, cfg.NATS.Url, "feed-checker", collector)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	feedChecker := &checker.Checker{
		Log:   log,
		Store: store,
		Client: httpclient.NewClient(httpclient.Config{
			Timeout:   cfg.GTFS.Timeout,
			LegacyTLS: cfg.GTFS.LegacyTLS,
			UserAgent: cfg.GTFS.UserAgent,
		}),
		FeedURL:  cfg.GTFS.Url,
		Guardian: feed.Guardian{MinStops: cfg.GTFS.MinStops},
		Trigger:  eventbus.NewJobTrigger(natsConn, cfg.NATS.JobSubject),
		Events:   eventbus.NewEventPublisher(natsConn, cfg.NATS.EventSubject, "feed-checker"),
		Metrics:  collector,
	}

	switch command {
	case "check":
		outcome, runErr := feedChecker.Run(ctx)
		log.Printf("main: feed check outcome %s", outcome)
		// published messages are buffered by the client
		if err = natsConn.Flush(); err != nil {
			log.Printf("main: error flushing nats: %v", err)
		}
		return runErr
	case "loop":
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		return feedChecker.RunLoop(ctx, cfg.CheckEvery, shutdown)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
