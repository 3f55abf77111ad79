package indexer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/business/data/feed/feedtest"
	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/matryer/is"
	"github.com/nats-io/nats.go"
)

type recordedEvent struct {
	message string
	details map[string]any
}

type recordingEvents struct {
	events []recordedEvent
}

func (r *recordingEvents) PublishEvent(message string, details map[string]any) error {
	r.events = append(r.events, recordedEvent{message: message, details: details})
	return nil
}

func TestRunner_Run(t *testing.T) {
	is := is.New(t)
	content := feedtest.Archive(t, map[string]string{
		"stops.txt":      testStops,
		"trips.txt":      testTrips,
		"stop_times.txt": testStopTimes,
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer server.Close()

	ctx := context.Background()
	store := kvstore.NewMemory()
	runner := &Runner{
		Log:                   testLogger(),
		Store:                 store,
		Client:                httpclient.NewClient(httpclient.Config{Timeout: time.Second}),
		FeedURL:               server.URL,
		RebuildAfterStopTimes: true,
	}
	is.NoErr(runner.Run(ctx, eventbus.JobStatic))
	is.NoErr(runner.Run(ctx, eventbus.JobStopTimes))

	schedule, err := busstate.GetStopSchedule(ctx, store, "1")
	is.NoErr(err)
	is.Equal(schedule.Schedule, []busstate.ScheduleEntry{
		{RouteID: "7", Headsign: "Mall", Time: "07:30:00"},
		{RouteID: "12", Headsign: "Conestoga", Time: "07:40:00"},
		{RouteID: "7", Headsign: "Mall", Time: "08:00:00"},
	})

	is.True(runner.Run(ctx, "unknown") != nil)
}

func TestRunner_RunRequestDigest(t *testing.T) {
	is := is.New(t)
	validated := feedtest.Archive(t, map[string]string{
		"stops.txt":      testStops,
		"trips.txt":      testTrips,
		"stop_times.txt": testStopTimes,
	})
	var served atomic.Value
	served.Store(validated)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(served.Load().([]byte))
	}))
	defer server.Close()

	ctx := context.Background()
	store := kvstore.NewMemory()
	runner := &Runner{
		Log:     testLogger(),
		Store:   store,
		Client:  httpclient.NewClient(httpclient.Config{Timeout: time.Second}),
		FeedURL: server.URL,
	}
	request := eventbus.JobRequest{Job: eventbus.JobStatic, ContentDigest: feed.Digest(validated)}
	is.NoErr(runner.RunRequest(ctx, request))

	// the feed is replaced upstream after validation
	served.Store(feedtest.Archive(t, map[string]string{
		"stops.txt":      "stop_id,stop_code,stop_name,stop_lat,stop_lon\n77,7777,Replaced,43.0,-80.0\n",
		"trips.txt":      testTrips,
		"stop_times.txt": testStopTimes,
	}))
	err := runner.RunRequest(ctx, request)
	is.True(errors.Is(err, ErrFeedChanged))
	stop, err := busstate.GetStop(ctx, store, "7777")
	is.NoErr(err)
	is.True(stop == nil) // nothing from the replaced feed was indexed

	// jobs run without a digest index whatever is served
	is.NoErr(runner.Run(ctx, eventbus.JobStatic))
	stop, err = busstate.GetStop(ctx, store, "7777")
	is.NoErr(err)
	is.Equal(stop.Name, "Replaced")
}

func TestRunner_DownloadFailure(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	runner := &Runner{
		Log:     testLogger(),
		Store:   kvstore.NewMemory(),
		Client:  httpclient.NewClient(httpclient.Config{Timeout: time.Second}),
		FeedURL: server.URL,
	}
	is.True(runner.Run(context.Background(), eventbus.JobStatic) != nil)
}

func TestRunner_HandleJobRequest(t *testing.T) {
	is := is.New(t)
	events := &recordingEvents{}
	runner := &Runner{
		Log:    testLogger(),
		Store:  kvstore.NewMemory(),
		Events: events,
	}
	runner.HandleJobRequest(context.Background(), &nats.Msg{Data: []byte(`{"job":"schedule","requested_at":1}`)})
	runner.HandleJobRequest(context.Background(), &nats.Msg{Data: []byte(`{"job":"reindex-everything"}`)})
	runner.HandleJobRequest(context.Background(), &nats.Msg{Data: []byte(`not json`)})

	is.Equal(len(events.events), 2)
	is.Equal(events.events[0].message, "IndexJobCompleted")
	is.Equal(events.events[1].message, "IndexJobFailed")
	is.Equal(events.events[1].details["job"], "reindex-everything")
}
