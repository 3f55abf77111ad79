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

	"github.com/OpenTransitTools/busstate/app/arrivals-svc/arrivals"
	"github.com/OpenTransitTools/busstate/foundation/database"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/ardanlabs/conf"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "ARRIVALS : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
			MaxOpenConns int    `conf:"default:10" validate:"gte=0"`
		}
		Reader struct {
			TimeZone            string        `conf:"default:America/Toronto" validate:"required"`
			SequenceTolerance   int           `conf:"default:0" validate:"gte=0"`
			HybridThreshold     float64       `conf:"default:0.005" validate:"gt=0"`
			TripCacheSize       int           `conf:"default:4096" validate:"gt=0"`
			TripCacheExpiration time.Duration `conf:"default:10m" validate:"gt=0"`
		}
		Health struct {
			StopID     string        `conf:"default:1001" validate:"required"`
			MaxLiveAge time.Duration `conf:"default:120s" validate:"gt=0"`
		}
		HttpPort int `conf:"default:8080" validate:"gt=0"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Serve arrival predictions reconciling live vehicles with the stop schedule"
	if err := conf.Parse(os.Args[1:], "ARRIVALS", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("ARRIVALS", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("ARRIVALS", &cfg)
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
		fmt.Println("serve: serve arrival requests over http")
		fmt.Println("health: check live data freshness and static data presence")
		usage, err := conf.Usage("ARRIVALS", &cfg)
		if err != nil {
			return fmt.Errorf("generating config usage: %w", err)
		}
		fmt.Println(usage)
		return nil
	}

	location, err := time.LoadLocation(cfg.Reader.TimeZone)
	if err != nil {
		return fmt.Errorf("loading time zone %s: %w", cfg.Reader.TimeZone, err)
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

	if err = database.StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("checking database status: %w", err)
	}
	store := kvstore.NewPostgres(log, db)

	switch command {
	case "serve":
		collector := metrics.New()
		reader := arrivals.NewReader(log, store, arrivals.Config{
			Location:          location,
			SequenceTolerance: cfg.Reader.SequenceTolerance,
			Hybrid: arrivals.HybridPolicy{
				Distance:  arrivals.EuclideanDegrees,
				Threshold: cfg.Reader.HybridThreshold,
			},
			TripCacheSize:       cfg.Reader.TripCacheSize,
			TripCacheExpiration: cfg.Reader.TripCacheExpiration,
			Metrics:             collector,
		})
		// Make a channel to listen for an interrupt or terminate signal from the OS.
		// Use a buffered channel because the signal package requires it.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		return arrivals.RunWebService(log, reader, collector, cfg.HttpPort, shutdown)
	case "health":
		checks := arrivals.CheckHealth(ctx, store, cfg.Health.StopID, time.Now(), cfg.Health.MaxLiveAge)
		failed := 0
		for _, check := range checks {
			status := "PASS"
			if !check.Passed {
				status = "FAIL"
				failed++
			}
			fmt.Printf("[%s] %s: %s (%s)\n", status, check.Category, check.Name, check.Detail)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d health checks failed", failed, len(checks))
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
