package eventbus

import (
	"testing"

	"github.com/matryer/is"
	"github.com/nats-io/nats.go"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func TestJobTrigger(t *testing.T) {
	is := is.New(t)
	conn := &recordingPublisher{}
	trigger := &JobTrigger{conn: conn, subject: "busstate.jobs"}
	is.NoErr(trigger.Trigger(JobStatic, ""))
	is.NoErr(trigger.Trigger(JobStopTimes, "abc123"))
	is.Equal(conn.subjects, []string{"busstate.jobs", "busstate.jobs"})

	request, err := DecodeJobRequest(&nats.Msg{Data: conn.payloads[1]})
	is.NoErr(err)
	is.Equal(request.Job, JobStopTimes)
	is.Equal(request.ContentDigest, "abc123")
	is.True(request.RequestedAt > 0)

	request, err = DecodeJobRequest(&nats.Msg{Data: conn.payloads[0]})
	is.NoErr(err)
	is.Equal(request.ContentDigest, "")
}

func TestEventPublisher(t *testing.T) {
	is := is.New(t)
	conn := &recordingPublisher{}
	events := &EventPublisher{conn: conn, subject: "busstate.events", source: "feed-checker"}
	is.NoErr(events.PublishEvent("AutoUpdateBlocked", map[string]any{"reason": "missing required file: stops.txt"}))

	event, err := DecodeEvent(&nats.Msg{Data: conn.payloads[0]})
	is.NoErr(err)
	is.Equal(event.Message, "AutoUpdateBlocked")
	is.Equal(event.Source, "feed-checker")
	is.Equal(event.Details["reason"], "missing required file: stops.txt")

	_, err = DecodeEvent(&nats.Msg{Data: []byte("{")})
	is.True(err != nil)
}
