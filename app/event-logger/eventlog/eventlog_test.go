package eventlog

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/matryer/is"
	"github.com/nats-io/nats.go"
)

// syncBuffer is written by the server goroutine and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSpace(s.buf.String()), "\n")
}

func testSink() (*Sink, *syncBuffer) {
	out := &syncBuffer{}
	sink := NewSink(log.New(out, "", 0), metrics.New())
	sink.now = func() time.Time {
		return time.Date(2026, 1, 6, 15, 4, 5, 0, time.FixedZone("EST", -5*60*60))
	}
	return sink, out
}

func TestLogHandler(t *testing.T) {
	sink, out := testSink()
	server := httptest.NewServer(createServer(sink, nil, 0).Handler)
	defer server.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus string
		wantLine   map[string]any
	}{
		{
			name:       "event",
			body:       `{"message":"StopSearched","details":{"stop_id":"1001"}}`,
			wantStatus: "logged",
			wantLine: map[string]any{
				"timestamp_utc": "2026-01-06T20:04:05.000000",
				"action":        "StopSearched",
				"details":       map[string]any{"stop_id": "1001"},
				"source_ip":     "203.0.113.9",
				"user_agent":    "test-agent",
			},
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: "logged",
			wantLine: map[string]any{
				"timestamp_utc": "2026-01-06T20:04:05.000000",
				"action":        "No message provided",
				"details":       map[string]any{},
				"source_ip":     "203.0.113.9",
				"user_agent":    "test-agent",
			},
		},
		{
			name:       "not json",
			body:       "not json",
			wantStatus: "log_error",
			wantLine: map[string]any{
				"error":         "LoggingFailed",
				"error_message": "invalid character 'o' in literal null (expecting 'u')",
				"raw_body":      "not json",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			req, err := http.NewRequest(http.MethodPost, server.URL+"/log", strings.NewReader(tt.body))
			is.NoErr(err)
			req.Header.Set("User-Agent", "test-agent")
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			resp, err := http.DefaultClient.Do(req)
			is.NoErr(err)
			defer resp.Body.Close()

			is.Equal(resp.StatusCode, http.StatusAccepted)
			is.Equal(resp.Header.Get("Access-Control-Allow-Origin"), "*")
			var status statusResponse
			is.NoErr(json.NewDecoder(resp.Body).Decode(&status))
			is.Equal(status.Status, tt.wantStatus)

			lines := out.lines()
			var got map[string]any
			is.NoErr(json.Unmarshal([]byte(lines[len(lines)-1]), &got))
			is.Equal(got, tt.wantLine)
		})
	}
}

func TestPreflight(t *testing.T) {
	is := is.New(t)
	sink, _ := testSink()
	server := httptest.NewServer(createServer(sink, nil, 0).Handler)
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/log", nil)
	is.NoErr(err)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	_ = resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusNoContent)
	is.Equal(resp.Header.Get("Access-Control-Allow-Methods"), "POST, OPTIONS")
}

func TestSink_HandleMessage(t *testing.T) {
	is := is.New(t)
	sink, out := testSink()

	sink.HandleMessage(&nats.Msg{
		Data: []byte(`{"message":"AutoUpdateBlocked","details":{"reason":"suspiciously low stop count: 12"},"source":"feed-checker"}`),
	})
	var got Record
	is.NoErr(json.Unmarshal([]byte(out.lines()[0]), &got))
	is.Equal(got, Record{
		TimestampUTC: "2026-01-06T20:04:05.000000",
		Action:       "AutoUpdateBlocked",
		Details:      map[string]any{"reason": "suspiciously low stop count: 12"},
		Source:       "feed-checker",
	})

	sink.HandleMessage(&nats.Msg{Data: []byte("{")})
	var failure failureRecord
	is.NoErr(json.Unmarshal([]byte(out.lines()[1]), &failure))
	is.Equal(failure.Error, "LoggingFailed")
	is.Equal(failure.RawBody, "{")
}
