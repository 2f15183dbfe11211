// Package notify is the optional Kafka change-notification outbox named
// in SPEC_FULL.md's DOMAIN STACK. It publishes one message per record
// append, keyed by pod+stream so a consumer can replay a single
// stream's events in order. It is grounded on the teacher's
// core/backend lazy kafkaWriterByTopic map (one *kafka.Writer per
// topic, created on first use) — the teacher's own notification
// delivery is a database-backed job queue, a much larger mechanism
// than a single append-time event needs here, so only the lazy-writer
// shape is carried over.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	kafka "github.com/segmentio/kafka-go"

	"github.com/webpods-org/webpods/core/logger"
)

// AppendEvent is the payload published for every successful record
// append (spec §4.3's result, the same fields a change-feed consumer
// needs to reconstruct ordering without reading the record body).
type AppendEvent struct {
	Pod        string `json:"pod"`
	StreamPath string `json:"streamPath"`
	Index      int64  `json:"index"`
	Hash       string `json:"hash"`
}

// Publisher implements recordstore.Notifier over a Kafka topic. A nil
// *Publisher is never constructed; callers that want no notification
// outbox simply pass a nil recordstore.Notifier to recordstore.New.
type Publisher struct {
	brokers []string
	topic   string

	mu     sync.Mutex
	writer *kafka.Writer
}

// New creates a Publisher that lazily dials brokers on first publish.
func New(brokers []string, topic string) *Publisher {
	return &Publisher{brokers: brokers, topic: topic}
}

func (p *Publisher) writerFor() *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Topic:                  p.topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	return p.writer
}

// NotifyAppend implements recordstore.Notifier.
func (p *Publisher) NotifyAppend(ctx context.Context, pod, streamPath string, index int64, hash string) error {
	payload, err := json.Marshal(AppendEvent{Pod: pod, StreamPath: streamPath, Index: index, Hash: hash})
	if err != nil {
		return fmt.Errorf("encode append event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(pod + "/" + streamPath),
		Value: payload,
	}
	if err := p.writerFor().WriteMessages(ctx, msg); err != nil {
		logger.FromContext(ctx).Infoln("kafka publish failed:", err)
		return err
	}
	return nil
}

// Close releases the underlying Kafka connection, if one was opened.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
