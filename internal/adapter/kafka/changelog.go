package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

const (
	maxBatch       = 100
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// MessageWriter is the subset of *kafkago.Writer the change log uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscriber hands out fan-out subscriptions.
type Subscriber interface {
	Subscribe() *fanout.Subscription
	Unsubscribe(sub *fanout.Subscription)
}

// Record is the value of one change log message.
type Record struct {
	Type   fanout.EventType `json:"type"`
	Seq    uint64           `json:"seq"`
	Resync bool             `json:"resync,omitempty"`
	Marker *domain.Marker   `json:"marker,omitempty"`
	Change *domain.Change   `json:"change,omitempty"`
}

// ChangeLog publishes registry changes to a Kafka topic keyed by marker id.
// It is an ordinary fan-out subscriber: it starts with one record per marker
// of the current snapshot, then one record per change. A resync produces a
// fresh round of snapshot records.
type ChangeLog struct {
	writer  MessageWriter
	hub     Subscriber
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the change log topic.
func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// NewChangeLog creates a ChangeLog writing through w.
func NewChangeLog(w MessageWriter, hub Subscriber, logger *slog.Logger, metrics *observability.Metrics) *ChangeLog {
	return &ChangeLog{
		writer:  w,
		hub:     hub,
		logger:  logger.With("component", "changelog"),
		metrics: metrics,
	}
}

// Run publishes until ctx is cancelled. Events already queued at that point
// are flushed with a short deadline before Run returns.
func (c *ChangeLog) Run(ctx context.Context) error {
	sub := c.hub.Subscribe()
	defer c.hub.Unsubscribe(sub)
	c.logger.Info("change log started", "markers", len(sub.Snapshot), "seq", sub.Seq)

	initial := snapshotMessages(sub.Snapshot, sub.Seq, false)
	if err := c.write(ctx, initial); err != nil {
		return nil
	}

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			c.drain(events)
			c.logger.Info("change log stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msgs := eventMessages(ev)
		batch:
			for len(msgs) < maxBatch {
				select {
				case next, ok := <-events:
					if !ok {
						break batch
					}
					msgs = append(msgs, eventMessages(next)...)
				default:
					break batch
				}
			}
			if err := c.write(ctx, msgs); err != nil {
				c.drain(events)
				return nil
			}
		}
	}
}

func (c *ChangeLog) drain(events <-chan fanout.Event) {
	var msgs []kafkago.Message
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			msgs = append(msgs, eventMessages(ev)...)
		default:
			done = true
		}
	}
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := c.writer.WriteMessages(ctx, msgs...); err != nil {
		c.metrics.ChangelogRecords.WithLabelValues("error").Add(float64(len(msgs)))
		c.logger.Warn("change log flush failed", "records", len(msgs), "error", err)
		return
	}
	c.metrics.ChangelogRecords.WithLabelValues("written").Add(float64(len(msgs)))
}

// write retries with exponential backoff until the batch is accepted or ctx
// ends. It returns an error only when ctx ended first.
func (c *ChangeLog) write(ctx context.Context, msgs []kafkago.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	backoff := initialBackoff
	for {
		err := c.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			c.metrics.ChangelogRecords.WithLabelValues("written").Add(float64(len(msgs)))
			return nil
		}
		c.metrics.ChangelogRecords.WithLabelValues("error").Add(float64(len(msgs)))
		c.logger.Warn("change log write failed", "records", len(msgs), "error", err, "retry_in", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
}

func eventMessages(ev fanout.Event) []kafkago.Message {
	if ev.Type == fanout.EventSnapshot {
		return snapshotMessages(ev.Markers, ev.Seq, ev.Resync)
	}
	if ev.Change == nil {
		return nil
	}
	msg, err := changeMessage(*ev.Change)
	if err != nil {
		return nil
	}
	return []kafkago.Message{msg}
}

func snapshotMessages(markers []domain.Marker, seq uint64, resync bool) []kafkago.Message {
	msgs := make([]kafkago.Message, 0, len(markers))
	for i := range markers {
		m := markers[i]
		msg, err := serializeToMessage(m.ID, Record{Type: fanout.EventSnapshot, Seq: seq, Resync: resync, Marker: &m}, m.Revision, "")
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func changeMessage(ch domain.Change) (kafkago.Message, error) {
	return serializeToMessage(ch.ID, Record{Type: fanout.EventChange, Seq: ch.Seq, Change: &ch}, ch.Revision, string(ch.Op))
}

// serializeToMessage marshals a Record into a Kafka message.
func serializeToMessage(key string, rec Record, revision uint64, op string) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change log record: %w", err)
	}
	headers := []kafkago.Header{
		{Key: "event_type", Value: []byte(rec.Type)},
		{Key: "revision", Value: []byte(strconv.FormatUint(revision, 10))},
	}
	if op != "" {
		headers = append(headers, kafkago.Header{Key: "op", Value: []byte(op)})
	}
	return kafkago.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}, nil
}
