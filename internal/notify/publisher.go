package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/deepugangadhar46/protego/internal/verification"
	"github.com/deepugangadhar46/protego/pkg/logging"
)

// VerificationOutcome is the event emitted when a human verdict lands, for
// downstream consumers (takedown tooling, model retraining pipelines).
type VerificationOutcome struct {
	AlertID    string    `json:"alert_id"`
	Result     string    `json:"result"`
	Confidence float64   `json:"confidence"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Publisher emits verification outcomes to Kafka. A nil Publisher is valid
// and drops events, so deployments without Kafka need no special casing.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger logging.Logger
}

func NewPublisher(brokers []string, topic string, logger logging.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("protego"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Publish sends one verification outcome, keyed by alert id so a consumer
// sees verdicts for the same alert in order.
func (p *Publisher) Publish(outcome VerificationOutcome) error {
	if p == nil {
		return nil
	}

	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(outcome.AlertID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce outcome: %w", err)
	}
	return nil
}

// Callback adapts the publisher to the verification flow's callback hook.
func (p *Publisher) Callback() verification.Callback {
	return func(alertID string, result verification.Status, confidence float64) {
		err := p.Publish(VerificationOutcome{
			AlertID:    alertID,
			Result:     string(result),
			Confidence: confidence,
			DecidedAt:  time.Now().UTC(),
		})
		if err != nil && p != nil {
			p.logger.WithError(err).WithField("alert_id", alertID).Warn("Failed to publish verification outcome")
		}
	}
}

// Client exposes the underlying client for health checks.
func (p *Publisher) Client() *kgo.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// Close flushes and shuts down the producer.
func (p *Publisher) Close() {
	if p != nil {
		p.client.Close()
	}
}
