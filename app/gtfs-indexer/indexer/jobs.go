package indexer

import (
	"context"
	"errors"
	"fmt"
	logger "log"
	"net/http"
	"sync"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/nats-io/nats.go"
)

// EventPublisher forwards operational events to the event logger
type EventPublisher interface {
	PublishEvent(message string, details map[string]any) error
}

// Runner runs index jobs against the static feed at FeedURL
type Runner struct {
	Log     *logger.Logger
	Store   kvstore.Store
	Client  *http.Client
	FeedURL string
	Options Options
	// RebuildAfterStopTimes runs RebuildSchedules when a stop-times job completes
	RebuildAfterStopTimes bool
	// Events is optional
	Events EventPublisher
	// JobTimeout bounds a single job, no limit when zero
	JobTimeout time.Duration
}

// ErrFeedChanged is returned when the downloaded archive is not the one a job was requested for
var ErrFeedChanged = errors.New("static feed changed since it was validated")

// DownloadArchive retrieves and opens the static feed archive at url.
// When wantDigest is set the download must match it, otherwise ErrFeedChanged is returned.
func DownloadArchive(ctx context.Context, client *http.Client, url string, wantDigest string) (*feed.Archive, error) {
	file, err := httpclient.DownloadBytes(ctx, client, url)
	if err != nil {
		return nil, fmt.Errorf("downloading static feed: %w", err)
	}
	if len(wantDigest) > 0 {
		if digest := feed.Digest(file.Content); digest != wantDigest {
			return nil, fmt.Errorf("%w: expected digest %s, downloaded %s", ErrFeedChanged, wantDigest, digest)
		}
	}
	return feed.OpenArchive(file.Content)
}

// Run executes job, one of eventbus.JobStatic, eventbus.JobStopTimes or eventbus.JobSchedule, on the current feed
func (r *Runner) Run(ctx context.Context, job string) error {
	return r.RunRequest(ctx, eventbus.JobRequest{Job: job})
}

// RunRequest executes request.Job, refusing to index a feed that differs from request.ContentDigest
func (r *Runner) RunRequest(ctx context.Context, request eventbus.JobRequest) error {
	job := request.Job
	if r.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	r.Log.Printf("Starting %s index job", job)

	switch job {
	case eventbus.JobStatic:
		archive, err := DownloadArchive(ctx, r.Client, r.FeedURL, request.ContentDigest)
		if err != nil {
			return err
		}
		counts, err := IndexStatic(ctx, r.Log, r.Store, archive, r.Options)
		if err != nil {
			return fmt.Errorf("indexing static feed: %w", err)
		}
		r.Log.Printf("Static index complete in %s: %+v", time.Since(start).Round(time.Second), counts)
	case eventbus.JobStopTimes:
		archive, err := DownloadArchive(ctx, r.Client, r.FeedURL, request.ContentDigest)
		if err != nil {
			return err
		}
		written, err := IndexStopTimes(ctx, r.Log, r.Store, archive, r.Options)
		if err != nil {
			return fmt.Errorf("indexing stop times: %w", err)
		}
		r.Log.Printf("Stop time index complete in %s: %d trips written", time.Since(start).Round(time.Second), written)
		if r.RebuildAfterStopTimes {
			return r.Run(ctx, eventbus.JobSchedule)
		}
	case eventbus.JobSchedule:
		written, err := RebuildSchedules(ctx, r.Log, r.Store, r.Options)
		if err != nil {
			return fmt.Errorf("rebuilding stop schedules: %w", err)
		}
		r.Log.Printf("Schedule rebuild complete in %s: %d stops written", time.Since(start).Round(time.Second), written)
	default:
		return fmt.Errorf("unknown index job %q", job)
	}
	return nil
}

// HandleJobRequest runs the job requested in msg, reporting the outcome as an event
func (r *Runner) HandleJobRequest(ctx context.Context, msg *nats.Msg) {
	request, err := eventbus.DecodeJobRequest(msg)
	if err != nil {
		r.Log.Printf("%v", err)
		return
	}
	start := time.Now()
	err = r.RunRequest(ctx, request)
	if err != nil {
		r.Log.Printf("index job %s failed: %v", request.Job, err)
		r.publish("IndexJobFailed", map[string]any{"job": request.Job, "error": err.Error()})
		return
	}
	r.publish("IndexJobCompleted", map[string]any{"job": request.Job, "seconds": int(time.Since(start).Seconds())})
}

func (r *Runner) publish(message string, details map[string]any) {
	if r.Events == nil {
		return
	}
	if err := r.Events.PublishEvent(message, details); err != nil {
		r.Log.Printf("unable to publish %s event: %v", message, err)
	}
}

// RunJobListener handles job requests from subject one at a time until shutdownSignal receives
func RunJobListener(ctx context.Context,
	runner *Runner,
	natsConn *nats.Conn,
	subject string,
	shutdownSignal chan bool) error {
	wg := sync.WaitGroup{}
	err := eventbus.Listen(runner.Log, &wg, natsConn, subject, func(msg *nats.Msg) {
		runner.HandleJobRequest(ctx, msg)
	}, shutdownSignal)
	if err != nil {
		return err
	}
	wg.Wait()
	return nil
}
