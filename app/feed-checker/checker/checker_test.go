package checker

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/business/data/feed/feedtest"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/matryer/is"
)

type recordingTrigger struct {
	jobs    []string
	digests []string
	err     error
}

func (r *recordingTrigger) Trigger(job string, contentDigest string) error {
	r.jobs = append(r.jobs, job)
	r.digests = append(r.digests, contentDigest)
	return r.err
}

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

// feedServer serves content with lastModified and counts full downloads
type feedServer struct {
	mu           sync.Mutex
	lastModified string
	content      []byte
	downloads    int
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Last-Modified", f.lastModified)
	if r.Method == http.MethodGet {
		f.downloads++
		_, _ = w.Write(f.content)
	}
}

const (
	previousRevision = "Mon, 05 Jan 2026 00:00:00 GMT"
	newRevision      = "Tue, 06 Jan 2026 00:00:00 GMT"
)

func testChecker(t *testing.T, url string) (*Checker, *kvstore.Memory, *recordingTrigger, *recordingEvents) {
	t.Helper()
	store := kvstore.NewMemory()
	err := busstate.PutFeedFingerprint(context.Background(), store, busstate.FeedFingerprint{
		LastModified: previousRevision,
		UpdatedAt:    1,
	})
	if err != nil {
		t.Fatalf("seeding fingerprint: %v", err)
	}
	trigger := &recordingTrigger{}
	events := &recordingEvents{}
	now := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	return &Checker{
		Log:      log.New(io.Discard, "TEST : ", log.LstdFlags),
		Store:    store,
		Client:   httpclient.NewClient(httpclient.Config{Timeout: time.Second}),
		FeedURL:  url,
		Guardian: feed.Guardian{MinStops: 10},
		Trigger:  trigger,
		Events:   events,
		Metrics:  metrics.New(),
		now:      func() time.Time { return now },
	}, store, trigger, events
}

func TestChecker_RunNoUpdateNeeded(t *testing.T) {
	is := is.New(t)
	server := &feedServer{lastModified: previousRevision}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	checker, store, trigger, events := testChecker(t, httpServer.URL)

	outcome, err := checker.Run(context.Background())
	is.NoErr(err)
	is.Equal(outcome, NoUpdateNeeded)
	is.Equal(server.downloads, 0)
	is.Equal(len(trigger.jobs), 0)
	is.Equal(len(events.events), 0)

	fingerprint, err := busstate.GetFeedFingerprint(context.Background(), store)
	is.NoErr(err)
	is.Equal(fingerprint.UpdatedAt, int64(1)) // untouched
}

func TestChecker_RunUpdateTriggered(t *testing.T) {
	is := is.New(t)
	server := &feedServer{
		lastModified: newRevision,
		content:      feedtest.Archive(t, feedtest.ValidFiles(20, "20301231")),
	}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	checker, store, trigger, events := testChecker(t, httpServer.URL)

	outcome, err := checker.Run(context.Background())
	is.NoErr(err)
	is.Equal(outcome, UpdateTriggered)
	is.Equal(server.downloads, 1)
	is.Equal(trigger.jobs, []string{"static", "stop-times"})
	digest := feed.Digest(server.content)
	is.Equal(trigger.digests, []string{digest, digest}) // jobs are tied to the validated bytes
	is.Equal(len(events.events), 1)
	is.Equal(events.events[0].message, EventUpdateStarted)
	is.Equal(events.events[0].details["header"], newRevision)

	fingerprint, err := busstate.GetFeedFingerprint(context.Background(), store)
	is.NoErr(err)
	is.Equal(fingerprint.LastModified, newRevision)
	is.Equal(fingerprint.UpdatedAt, checker.currentTime().Unix())
}

func TestChecker_RunFirstFeed(t *testing.T) {
	is := is.New(t)
	server := &feedServer{
		lastModified: previousRevision,
		content:      feedtest.Archive(t, feedtest.ValidFiles(20, "20301231")),
	}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	checker, _, trigger, _ := testChecker(t, httpServer.URL)
	checker.Store = kvstore.NewMemory() // nothing indexed yet

	outcome, err := checker.Run(context.Background())
	is.NoErr(err)
	is.Equal(outcome, UpdateTriggered)
	is.Equal(len(trigger.jobs), 2)
}

func TestChecker_RunInvalidData(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantReason string
	}{
		{
			name:       "missing calendar",
			files:      map[string]string{"stops.txt": feedtest.Stops(20), "trips.txt": "trip_id\n", "stop_times.txt": "trip_id\n"},
			wantReason: "missing required file: calendar.txt",
		},
		{
			name:       "expired",
			files:      feedtest.ValidFiles(20, "20251231"),
			wantReason: "schedule expired on 20251231",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			server := &feedServer{lastModified: newRevision, content: feedtest.Archive(t, tt.files)}
			httpServer := httptest.NewServer(server)
			defer httpServer.Close()
			checker, store, trigger, events := testChecker(t, httpServer.URL)

			outcome, err := checker.Run(context.Background())
			is.NoErr(err)
			is.Equal(outcome, InvalidData)
			is.Equal(len(trigger.jobs), 0)
			is.Equal(len(events.events), 1)
			is.Equal(events.events[0].message, EventUpdateBlocked)
			is.Equal(events.events[0].details["reason"], tt.wantReason)
			is.Equal(events.events[0].details["header"], newRevision)

			fingerprint, err := busstate.GetFeedFingerprint(context.Background(), store)
			is.NoErr(err)
			is.Equal(fingerprint.LastModified, previousRevision)
		})
	}
}

func TestChecker_RunError(t *testing.T) {
	is := is.New(t)
	server := &feedServer{
		lastModified: newRevision,
		content:      feedtest.Archive(t, feedtest.ValidFiles(20, "20301231")),
	}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	checker, store, trigger, events := testChecker(t, httpServer.URL)
	trigger.err = errors.New("nats unavailable")

	outcome, err := checker.Run(context.Background())
	is.True(err != nil)
	is.Equal(outcome, Error)
	is.Equal(events.events[len(events.events)-1].message, EventUpdateError)

	// fingerprint is only recorded once both jobs were triggered
	fingerprint, err := busstate.GetFeedFingerprint(context.Background(), store)
	is.NoErr(err)
	is.Equal(fingerprint.LastModified, previousRevision)

	// the feed being unreachable is an error as well
	checker.FeedURL = httpServer.URL + "/missing"
	httpServer.Close()
	outcome, err = checker.Run(context.Background())
	is.True(err != nil)
	is.Equal(outcome, Error)
}
