package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

// ReportHandler ingests duel reports
type ReportHandler interface {
	ReportDuel(ctx context.Context, report domain.DuelReport) (domain.DuelOutcome, error)
}

// Consumer consumes duel reports from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ReportHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ReportHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, handler, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler ReportHandler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ReportsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ReportsTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage ingests one report. Reports are not redelivered: a failed
// ingestion is logged and the reporter can send the link again.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) {
	var report domain.DuelReport
	if err := json.Unmarshal(value, &report); err != nil {
		c.logger.Warn("failed to unmarshal report", "error", err)
		return
	}

	report.ReporterID = strings.TrimSpace(report.ReporterID)
	if report.ReporterID == "" || strings.TrimSpace(report.Content) == "" {
		c.logger.Warn("invalid duel report", "reporter", report.ReporterID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ReportTimeout)
	defer cancel()

	outcome, err := c.handler.ReportDuel(ctx, report)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrDataIntegrity) || errors.Is(err, domain.ErrDuelFetch) {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "failed to ingest duel report", "reporter", report.ReporterID, "error", err)
		return
	}

	c.logger.Info("duel report ingested",
		"reporter", report.ReporterID,
		"duel_id", outcome.DuelID,
		"match_id", outcome.MatchID,
		"applied", outcome.Applied,
	)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.consumer.logger.Debug("received duel report",
				"offset", message.Offset,
				"partition", message.Partition,
			)
			h.consumer.handleMessage(session.Context(), message.Value)
			session.MarkMessage(message, "")
		}
	}
}
