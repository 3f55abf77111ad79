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

	"github.com/OpenTransitTools/busstate/app/gtfs-indexer/indexer"
	"github.com/OpenTransitTools/busstate/business/data/busstate"
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
	log := logger.New(os.Stdout, "GTFS_INDEXER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
			MaxOpenConns int    `conf:"default:4" validate:"gte=0"`
		}
		GTFS struct {
			Url        string        `conf:"default:https://webapps.regionofwaterloo.ca/api/grt-routes/api/staticfeeds/0" validate:"required,url"`
			Timeout    time.Duration `conf:"default:5m" validate:"gt=0"`
			LegacyTLS  bool          `conf:"default:true"`
			UserAgent  string        `conf:"default:Mozilla/5.0 (compatible; busstate-indexer)"`
			JobTimeout time.Duration `conf:"default:1h"`
		}
		Index struct {
			ChunkSize             int           `conf:"default:100" validate:"gt=0,lte=100"`
			ChunkInterval         time.Duration `conf:"default:100ms"`
			FlushTripCount        int           `conf:"default:100" validate:"gt=0"`
			RebuildAfterStopTimes bool          `conf:"default:true"`
		}
		NATS struct {
			Url          string `conf:"default:nats://localhost:4222" validate:"required"`
			JobSubject   string `conf:"default:busstate.jobs" validate:"required"`
			EventSubject string `conf:"default:busstate.events" validate:"required"`
		}
		MetricsAddr string `conf:"help:listen address for prometheus metrics or empty to disable"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Build stop, trip, route and schedule indices from the static gtfs feed"
	if err := conf.Parse(os.Args[1:], "GTFS_INDEXER", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("GTFS_INDEXER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("GTFS_INDEXER", &cfg)
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
		fmt.Println("static: index stops, trips and stop routes")
		fmt.Println("stoptimes: index trip stop times")
		fmt.Println("schedule: rebuild stop schedules from indexed stop times")
		fmt.Println("all: static, stoptimes and schedule")
		fmt.Println("listen: run jobs requested over nats")
		usage, err := conf.Usage("GTFS_INDEXER", &cfg)
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

	runner := &indexer.Runner{
		Log:   log,
		Store: store,
		Client: httpclient.NewClient(httpclient.Config{
			Timeout:   cfg.GTFS.Timeout,
			LegacyTLS: cfg.GTFS.LegacyTLS,
			UserAgent: cfg.GTFS.UserAgent,
		}),
		FeedURL: cfg.GTFS.Url,
		Options: indexer.Options{
			Writer: busstate.BatchWriterConfig{
				ChunkSize:     cfg.Index.ChunkSize,
				ChunkInterval: cfg.Index.ChunkInterval,
			},
			FlushTripCount: cfg.Index.FlushTripCount,
			Metrics:        collector,
		},
		RebuildAfterStopTimes: cfg.Index.RebuildAfterStopTimes,
		JobTimeout:            cfg.GTFS.JobTimeout,
	}

	switch command {
	case "static":
		return runner.Run(ctx, eventbus.JobStatic)
	case "stoptimes":
		return runner.Run(ctx, eventbus.JobStopTimes)
	case "schedule":
		return runner.Run(ctx, eventbus.JobSchedule)
	case "all":
		if err = runner.Run(ctx, eventbus.JobStatic); err != nil {
			return err
		}
		runner.RebuildAfterStopTimes = true
		return runner.Run(ctx, eventbus.JobStopTimes)
	case "listen":
		natsConn, err := eventbus.Connect(log, cfg.NATS.Url, "gtfs-indexer", collector)
		if err != nil {
			return err
		}
		defer natsConn.Close()
		runner.Events = eventbus.NewEventPublisher(natsConn, cfg.NATS.EventSubject, "gtfs-indexer")

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		listenerShutdown := make(chan bool, 1)
		go func() {
			<-shutdown
			log.Printf("main: shutdown signal received")
			cancel()
			listenerShutdown <- true
		}()
		return indexer.RunJobListener(ctx, runner, natsConn, cfg.NATS.JobSubject, listenerShutdown)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
