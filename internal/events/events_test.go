package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testEvent() Event {
	appt := uuid.MustParse("6f1c1a52-8a44-4a3c-9d47-3c2a4f1f5b10")
	req := uuid.MustParse("0b6f5d6e-7c1a-4e2f-8a9b-1c2d3e4f5a6b")
	return Event{
		ID:            uuid.New(),
		Type:          "APPOINTMENT_ASSIGNED",
		AppointmentID: &appt,
		RequestID:     &req,
		Payload:       json.RawMessage(`{"slot":"10:00-11:00"}`),
		OccurredAt:    time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
}

func TestEventKey(t *testing.T) {
	ev := testEvent()
	if got := ev.Key(); got != ev.AppointmentID.String() {
		t.Errorf("key = %q, want appointment id", got)
	}

	ev.AppointmentID = nil
	if got := ev.Key(); got != ev.RequestID.String() {
		t.Errorf("key = %q, want request id", got)
	}

	ev.RequestID = nil
	if got := ev.Key(); got != ev.Type {
		t.Errorf("key = %q, want event type", got)
	}
}

func TestKafkaMessage(t *testing.T) {
	ev := testEvent()
	msg, err := kafkaMessage(ev)
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}

	if string(msg.Key) != ev.AppointmentID.String() {
		t.Errorf("key = %q", msg.Key)
	}
	if !msg.Time.Equal(ev.OccurredAt) {
		t.Errorf("time = %v, want %v", msg.Time, ev.OccurredAt)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "event-type" || string(msg.Headers[0].Value) != ev.Type {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not an event: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Type != ev.Type || string(decoded.Payload) != string(ev.Payload) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestKafkaPublishNothing(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "scheduler-events")
	defer p.Close()

	if err := p.Publish(context.Background()); err != nil {
		t.Errorf("empty publish should not reach the broker: %v", err)
	}
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String(uuid.NewString())}, nil
}

func TestSQSPublish(t *testing.T) {
	fake := &fakeSQS{}
	p := &SQSPublisher{client: fake, queueURL: "https://sqs.local/000000000000/scheduler"}

	first, second := testEvent(), testEvent()
	second.Type = "APPOINTMENT_CANCELLED"
	if err := p.Publish(context.Background(), first, second); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fake.inputs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(fake.inputs))
	}
	in := fake.inputs[1]
	if aws.ToString(in.QueueUrl) != p.queueURL {
		t.Errorf("queue = %q", aws.ToString(in.QueueUrl))
	}
	if got := aws.ToString(in.MessageAttributes["eventType"].StringValue); got != "APPOINTMENT_CANCELLED" {
		t.Errorf("eventType attribute = %q", got)
	}
	if !strings.Contains(aws.ToString(in.MessageBody), `"type":"APPOINTMENT_CANCELLED"`) {
		t.Errorf("body = %s", aws.ToString(in.MessageBody))
	}
}

func TestSQSPublishError(t *testing.T) {
	boom := errors.New("throttled")
	p := &SQSPublisher{client: &fakeSQS{err: boom}, queueURL: "q"}

	err := p.Publish(context.Background(), testEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	ev := testEvent()
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["event_type"] != ev.Type || entry["appointment_id"] != ev.AppointmentID.String() || entry["component"] != "events" {
		t.Errorf("entry = %v", entry)
	}
	payload, ok := entry["payload"].(map[string]any)
	if !ok || payload["slot"] != "10:00-11:00" {
		t.Errorf("payload = %v", entry["payload"])
	}
}
