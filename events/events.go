// Package events publishes inventory changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"inventory/model"
)

type Type string

const (
	Created Type = "item.created"
	Updated Type = "item.updated"
	Deleted Type = "item.deleted"
)

const (
	batchTimeout = 10 * time.Millisecond
	writeTimeout = time.Second
	maxAttempts  = 3
)

type Event struct {
	Type   Type        `json:"type"`
	ItemID int         `json:"item_id"`
	Item   *model.Item `json:"item,omitempty"`
	Time   time.Time   `json:"time"`
}

type Publisher interface {
	Publish(context.Context, Event) error
	Close() error
}

// Writer is the part of *kafka.Writer we use
type Writer interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		MaxAttempts:  maxAttempts,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{w: w}
}

func NewPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// Publish writes e keyed by its item id, so all changes to one
// item land on the same partition. Two writers racing on one id
// may publish in a different order than the store applied them;
// use Time, not offset, to order them. The trace context of ctx
// travels in the message headers.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	payload, err := json.Marshal(e)

	if err != nil {
		return fmt.Errorf("event %s %d: %w", e.Type, e.ItemID, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event-type", Value: []byte(e.Type)})

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Key:     []byte(strconv.Itoa(e.ItemID)),
		Value:   payload,
		Headers: headers,
	}

	if err = p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("event %s %d: %w", e.Type, e.ItemID, err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
