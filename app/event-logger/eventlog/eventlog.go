// Package eventlog turns events from the web frontend and backend services into structured log records
package eventlog

import (
	"encoding/json"
	logger "log"
	"sync"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/eventbus"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/nats-io/nats.go"
)

const noMessage = "No message provided"

// Record is a single structured event log line
type Record struct {
	TimestampUTC string         `json:"timestamp_utc"`
	Action       string         `json:"action"`
	Details      map[string]any `json:"details"`
	SourceIP     string         `json:"source_ip"`
	UserAgent    string         `json:"user_agent"`
	// Source names the service that published the event, empty for http events
	Source string `json:"source,omitempty"`
}

// failureRecord is logged when an event cannot be parsed
type failureRecord struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	RawBody      string `json:"raw_body"`
}

// Sink writes records as json lines to out
type Sink struct {
	out *logger.Logger
	// metrics is optional
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSink creates Sink writing to out
func NewSink(out *logger.Logger, collector *metrics.Collector) *Sink {
	return &Sink{out: out, metrics: collector, now: time.Now}
}

// newRecord builds Record stamped with the current time, defaulting missing message and details
func (s *Sink) newRecord(message string, details map[string]any) Record {
	if len(message) == 0 {
		message = noMessage
	}
	if details == nil {
		details = map[string]any{}
	}
	return Record{
		TimestampUTC: s.now().UTC().Format("2006-01-02T15:04:05.000000"),
		Action:       message,
		Details:      details,
	}
}

// Write logs record, source labels the metric
func (s *Sink) Write(record Record, source string) {
	s.writeJSON(record)
	if s.metrics != nil {
		s.metrics.EventsLogged.WithLabelValues(source).Inc()
	}
}

// writeFailure logs an event that could not be parsed
func (s *Sink) writeFailure(err error, raw []byte) {
	s.writeJSON(failureRecord{Error: "LoggingFailed", ErrorMessage: err.Error(), RawBody: string(raw)})
}

func (s *Sink) writeJSON(v any) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		s.out.Printf(`{"error":"LoggingFailed","error_message":%q}`, err.Error())
		return
	}
	s.out.Println(string(jsonData))
}

// HandleMessage logs an eventbus.Event received over nats
func (s *Sink) HandleMessage(msg *nats.Msg) {
	event, err := eventbus.DecodeEvent(msg)
	if err != nil {
		s.writeFailure(err, msg.Data)
		return
	}
	record := s.newRecord(event.Message, event.Details)
	record.Source = event.Source
	s.Write(record, "nats")
}

// Subscribe logs every event published on subject until shutdownSignal receives
func (s *Sink) Subscribe(log *logger.Logger, wg *sync.WaitGroup, natsConn *nats.Conn, subject string, shutdownSignal chan bool) error {
	return eventbus.Listen(log, wg, natsConn, subject, s.HandleMessage, shutdownSignal)
}
