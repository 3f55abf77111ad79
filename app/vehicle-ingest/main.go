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

	"github.com/OpenTransitTools/busstate/app/vehicle-ingest/ingest"
	"github.com/OpenTransitTools/busstate/foundation/database"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/ardanlabs/conf"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "VEHICLE_INGEST : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		Feed struct {
			Url       string        `conf:"default:https://webapps.regionofwaterloo.ca/api/grt-routes/api/VehiclePositions" validate:"required,url"`
			Timeout   time.Duration `conf:"default:10s" validate:"gt=0"`
			LegacyTLS bool          `conf:"default:true"`
			UserAgent string        `conf:"default:Mozilla/5.0 (compatible; busstate-ingest)"`
		}
		LoopEverySeconds int           `conf:"default:60" validate:"gt=0"`
		HistoryRetention time.Duration `conf:"default:8760h" validate:"gt=0"`
		MetricsAddr      string        `conf:"help:listen address for prometheus metrics or empty to disable"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Poll realtime vehicle positions into live and history snapshots"
	if err := conf.Parse(os.Args[1:], "VEHICLE_INGEST", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("VEHICLE_INGEST", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("VEHICLE_INGEST", &cfg)
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
		fmt.Println("once: fetch and save vehicle positions one time")
		fmt.Println("loop: fetch and save vehicle positions every loop interval")
		fmt.Println("reap: remove expired history records")
		usage, err := conf.Usage("VEHICLE_INGEST", &cfg)
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

	ingestor := &ingest.Ingestor{
		Log:   log,
		Store: store,
		Client: httpclient.NewClient(httpclient.Config{
			Timeout:   cfg.Feed.Timeout,
			LegacyTLS: cfg.Feed.LegacyTLS,
			UserAgent: cfg.Feed.UserAgent,
		}),
		URL:              cfg.Feed.Url,
		HistoryRetention: cfg.HistoryRetention,
		Metrics:          collector,
	}

	switch command {
	case "once":
		count := ingestor.FetchAndSave(ctx)
		log.Printf("main: saved %d vehicles", count)
		return nil
	case "loop":
		// Make a channel to listen for an interrupt or terminate signal from the OS.
		// Use a buffered channel because the signal package requires it.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		return ingestor.RunLoop(ctx, time.Duration(cfg.LoopEverySeconds)*time.Second, shutdown)
	case "reap":
		_, err = ingestor.Reap(ctx)
		return err
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
