package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

// Audit event kinds
const (
	EventRegistration = "registration"
	EventTeam         = "team"
	EventDuel         = "duel"
)

// AuditEvent is the envelope published for every sink append
type AuditEvent struct {
	Kind       string          `json:"kind"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// AuditProducer publishes registrations, teams and duel summaries to the audit topic
type AuditProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewAuditProducer creates an asynchronous producer for the audit topic
func NewAuditProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*AuditProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newAuditProducer(producer, cfg.AuditTopic, logger), nil
}

func newAuditProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *AuditProducer {
	p := &AuditProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Warn("audit event delivery failed", "topic", p.topic, "error", err.Err)
		}
	}()

	return p
}

// AppendRegistration publishes a registration event
func (p *AuditProducer) AppendRegistration(ctx context.Context, player domain.Player) error {
	return p.publish(ctx, EventRegistration, player.DiscordID, player)
}

// AppendTeam publishes a team event
func (p *AuditProducer) AppendTeam(ctx context.Context, team domain.Team) error {
	return p.publish(ctx, EventTeam, string(team.Key), team)
}

// AppendDuel publishes a duel summary
func (p *AuditProducer) AppendDuel(ctx context.Context, summary domain.DuelSummary) error {
	return p.publish(ctx, EventDuel, summary.Link, summary)
}

func (p *AuditProducer) publish(ctx context.Context, kind, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", kind, err)
	}
	event, err := json.Marshal(AuditEvent{
		Kind:       kind,
		Subject:    subject,
		OccurredAt: time.Now(),
		Payload:    data,
	})
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", kind, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(subject),
		Value: sarama.ByteEncoder(event),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes buffered events and stops the producer
func (p *AuditProducer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
