// Package checker decides when a new static feed should be indexed
package checker

import (
	"context"
	"fmt"
	logger "log"
	"net/http"
	"os"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
)

// Outcome is the result of a Checker run
type Outcome string

// possible outcomes
const (
	NoUpdateNeeded  Outcome = "NO_UPDATE_NEEDED"
	InvalidData     Outcome = "INVALID_DATA"
	UpdateTriggered Outcome = "UPDATE_TRIGGERED"
	Error           Outcome = "ERROR"
)

// events published by the checker
const (
	EventUpdateBlocked = "AutoUpdateBlocked"
	EventUpdateStarted = "AutoUpdateStarted"
	EventUpdateError   = "AutoUpdateError"
)

// Trigger requests an index job of the archive identified by contentDigest
type Trigger interface {
	Trigger(job string, contentDigest string) error
}

// EventPublisher forwards operational events to the event logger
type EventPublisher interface {
	PublishEvent(message string, details map[string]any) error
}

// Checker compares the static feed's revision with the last indexed one and triggers indexing of valid new feeds
type Checker struct {
	Log      *logger.Logger
	Store    kvstore.Store
	Client   *http.Client
	FeedURL  string
	Guardian feed.Guardian
	Trigger  Trigger
	Events   EventPublisher
	// Metrics is optional
	Metrics *metrics.Collector
	now     func() time.Time
}

func (c *Checker) currentTime() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Run performs a single check. Errors are reported as an AutoUpdateError event and returned with the Error outcome
func (c *Checker) Run(ctx context.Context) (Outcome, error) {
	outcome, err := c.run(ctx)
	if err != nil {
		c.Log.Printf("feed check failed: %v\n", err)
		c.publish(EventUpdateError, map[string]any{"error": err.Error()})
		outcome = Error
	}
	if c.Metrics != nil {
		c.Metrics.CheckerOutcomes.WithLabelValues(string(outcome)).Inc()
	}
	return outcome, err
}

func (c *Checker) run(ctx context.Context) (Outcome, error) {
	info, err := httpclient.GetRemoteFileInfo(ctx, c.Client, c.FeedURL)
	if err != nil {
		return Error, fmt.Errorf("checking static feed revision: %w", err)
	}

	previous, err := busstate.GetFeedFingerprint(ctx, c.Store)
	if err != nil {
		return Error, err
	}
	if previous != nil && len(previous.LastModified) > 0 && previous.LastModified == info.LastModified {
		c.Log.Printf("No new data found, static feed last modified %s\n", info.LastModified)
		return NoUpdateNeeded, nil
	}

	c.Log.Printf("New data detected (%s). Downloading for validation...\n", info.LastModified)
	file, err := httpclient.DownloadBytes(ctx, c.Client, c.FeedURL)
	if err != nil {
		return Error, fmt.Errorf("downloading static feed: %w", err)
	}

	result := c.Guardian.Validate(file.Content, c.currentTime())
	if !result.Valid {
		c.Log.Printf("static feed rejected: %s\n", result.Reason)
		c.publish(EventUpdateBlocked, map[string]any{"reason": result.Reason, "header": info.LastModified})
		return InvalidData, nil
	}

	c.Log.Printf("Data validated. Triggering re-indexing...\n")
	c.publish(EventUpdateStarted, map[string]any{"header": info.LastModified})
	// jobs download the feed again and only index the archive validated here
	digest := feed.Digest(file.Content)
	for _, job := range []string{eventbus.JobStatic, eventbus.JobStopTimes} {
		if err = c.Trigger.Trigger(job, digest); err != nil {
			return Error, fmt.Errorf("triggering %s index job: %w", job, err)
		}
	}

	err = busstate.PutFeedFingerprint(ctx, c.Store, busstate.FeedFingerprint{
		LastModified: info.LastModified,
		UpdatedAt:    c.currentTime().Unix(),
	})
	if err != nil {
		return Error, err
	}
	return UpdateTriggered, nil
}

// publish sends an event, failures are only logged
func (c *Checker) publish(message string, details map[string]any) {
	if c.Events == nil {
		return
	}
	if err := c.Events.PublishEvent(message, details); err != nil {
		c.Log.Printf("failed to publish %s event: %v\n", message, err)
	}
}

// RunLoop runs a check every interval until shutdownSignal receives or ctx ends
func (c *Checker) RunLoop(ctx context.Context, interval time.Duration, shutdownSignal chan os.Signal) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		outcome, _ := c.Run(ctx)
		c.Log.Printf("feed check finished: %s\n", outcome)
		select {
		case <-shutdownSignal:
			c.Log.Printf("Exiting on shutdown signal")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
