package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PubSubService publishes post-call events for the downstream summarization
// and notification pipeline.
type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallSummaryEvent is emitted once per completed call.
type CallSummaryEvent struct {
	CallSid         string    `json:"call_sid"`
	From            string    `json:"from,omitempty"`
	To              string    `json:"to,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	TurnCount       int       `json:"turn_count"`
	MessageCount    int       `json:"message_count"`
	CapturedPurpose string    `json:"captured_purpose,omitempty"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("topic does not exist, creating", zap.String("topic", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallSummary publishes one call summary event. Blocks until the
// server acknowledges or ctx expires.
func (p *PubSubService) PublishCallSummary(ctx context.Context, summary CallSummaryEvent) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal call summary event: %w", err)
	}

	taskID := uuid.New().String()
	message := &pubsub.Message{
		Attributes: map[string]string{
			"name":     fmt.Sprintf("call-summary:%s", taskID),
			"call_sid": summary.CallSid,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	if _, err := result.Get(ctx); err != nil {
		logger.Base().Error("failed to publish call summary",
			zap.String("call_sid", summary.CallSid),
			zap.Error(err))
		return fmt.Errorf("failed to publish call summary message: %w", err)
	}

	logger.Base().Info("published call summary",
		zap.String("call_sid", summary.CallSid),
		zap.Int("turn_count", summary.TurnCount),
		zap.Int("duration_seconds", summary.DurationSeconds))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
