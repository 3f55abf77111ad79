package main

import (
	"errors"
	"fmt"
	"io/fs"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/OpenTransitTools/busstate/app/event-logger/eventlog"
	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/ardanlabs/conf"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "EVENT_LOGGER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		NATS struct {
			Url          string `conf:"default:nats://localhost:4222" validate:"required"`
			EventSubject string `conf:"default:busstate.events" validate:"required"`
		}
		HttpPort int `conf:"default:8081" validate:"gt=0"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Write events from the frontend and services as structured log records"
	if err := conf.Parse(os.Args[1:], "EVENT_LOGGER", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("EVENT_LOGGER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("EVENT_LOGGER", &cfg)
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

	collector := metrics.New()
	// event records are bare json lines
	sink := eventlog.NewSink(logger.New(os.Stdout, "", 0), collector)

	natsConn, err := eventbus.Connect(log, cfg.NATS.Url, "event-logger", collector)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	wg := sync.WaitGroup{}
	listenerShutdown := make(chan bool, 1)
	webServiceShutdown := make(chan bool, 1)
	if err = sink.Subscribe(log, &wg, natsConn, cfg.NATS.EventSubject, listenerShutdown); err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Printf("main: shutdown signal received, shutting down subroutines")
		listenerShutdown <- true
		webServiceShutdown <- true
	}()

	err = eventlog.RunWebService(log, sink, collector, cfg.HttpPort, webServiceShutdown)
	// the web service may end on its own, make sure the listener follows
	select {
	case listenerShutdown <- true:
	default:
	}
	wg.Wait()
	return err
}
