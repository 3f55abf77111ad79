// Package eventbus carries index job triggers and operational events over NATS.
package eventbus

import (
	"encoding/json"
	"fmt"
	logger "log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// index jobs that can be triggered
const (
	JobStatic    = "static"
	JobStopTimes = "stop-times"
	JobSchedule  = "schedule"
)

// ConnectionMetrics receives connection state changes
type ConnectionMetrics interface {
	NATSSetConnected(connected bool)
}

// Connect opens a nats connection named name, reporting connection changes to log and m. m may be nil
func Connect(log *logger.Logger, url string, name string, m ConnectionMetrics) (*nats.Conn, error) {
	setConnected := func(connected bool) {
		if m != nil {
			m.NATSSetConnected(connected)
		}
	}
	natsConn, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	setConnected(true)
	return natsConn, nil
}

// publisher is the part of *nats.Conn used to send messages
type publisher interface {
	Publish(subject string, data []byte) error
}

// JobRequest asks an indexer to run Job
type JobRequest struct {
	Job         string `json:"job"`
	RequestedAt int64  `json:"requested_at"`

	// ContentDigest, when set, is the digest of the feed archive that was validated for this job
	ContentDigest string `json:"content_digest,omitempty"`
}

// JobTrigger publishes JobRequests on a subject
type JobTrigger struct {
	conn    publisher
	subject string
}

// NewJobTrigger creates JobTrigger publishing on subject
func NewJobTrigger(natsConn *nats.Conn, subject string) *JobTrigger {
	return &JobTrigger{conn: natsConn, subject: subject}
}

// Trigger publishes a JobRequest for job, contentDigest may be empty
func (j *JobTrigger) Trigger(job string, contentDigest string) error {
	jsonData, err := json.Marshal(JobRequest{Job: job, RequestedAt: time.Now().Unix(), ContentDigest: contentDigest})
	if err != nil {
		return fmt.Errorf("error marshaling job request to json: %w", err)
	}
	if err = j.conn.Publish(j.subject, jsonData); err != nil {
		return fmt.Errorf("publishing %s job request: %w", job, err)
	}
	return nil
}

// Event is an operational occurrence forwarded to the event logger
type Event struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
	Source  string         `json:"source,omitempty"`
}

// EventPublisher sends Events on a subject
type EventPublisher struct {
	conn    publisher
	subject string
	source  string
}

// NewEventPublisher creates EventPublisher that tags events with source
func NewEventPublisher(natsConn *nats.Conn, subject string, source string) *EventPublisher {
	return &EventPublisher{conn: natsConn, subject: subject, source: source}
}

// PublishEvent sends message and details
func (e *EventPublisher) PublishEvent(message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	jsonData, err := json.Marshal(Event{Message: message, Details: details, Source: e.source})
	if err != nil {
		return fmt.Errorf("error marshaling event to json: %w", err)
	}
	return e.conn.Publish(e.subject, jsonData)
}

// Listen subscribes to subject and hands every message to handler until shutdownSignal receives.
// Returns error if the subscription cannot be established.
func Listen(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	subject string,
	handler func(msg *nats.Msg),
	shutdownSignal chan bool) error {

	ch := make(chan *nats.Msg, 64)
	log.Printf("Subscribing to subject:%s on nats: %v\n", subject, natsConn.Servers())
	sub, err := natsConn.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("unable to establish subscription to %s: %w", subject, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-ch:
				handler(msg)
			case <-shutdownSignal:
				log.Printf("ending listener on %s on shutdown signal\n", subject)
				if err := sub.Unsubscribe(); err != nil {
					log.Printf("Error unsubscribing to nats:%s", err)
				}
				return
			}
		}
	}()
	return nil
}

// DecodeJobRequest un-marshals JobRequest from msg
func DecodeJobRequest(msg *nats.Msg) (JobRequest, error) {
	var request JobRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		return request, fmt.Errorf("error parsing job request: %w, payload:%s", err, string(msg.Data))
	}
	return request, nil
}

// DecodeEvent un-marshals Event from msg
func DecodeEvent(msg *nats.Msg) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return event, fmt.Errorf("error parsing event: %w, payload:%s", err, string(msg.Data))
	}
	return event, nil
}
