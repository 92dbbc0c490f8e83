package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

const (
	// StreamName is the JetStream stream carrying alert events
	StreamName = "ALERTS"

	triggeredSubject = "alert.triggered."
	statsSubject     = "alert.stats."
)

// EventPublisher publishes alert events to JetStream for the presentation layer
type EventPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewEventPublisher creates a publisher and ensures its stream exists
func NewEventPublisher(js nats.JetStreamContext, logger *zap.Logger) (*EventPublisher, error) {
	p := &EventPublisher{
		js:     js,
		logger: logger.Named("events"),
	}
	if err := p.EnsureStream(); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureStream creates the ALERTS stream if it does not exist
func (p *EventPublisher) EnsureStream() error {
	_, err := p.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"alert.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.Info("Stream created", zap.String("stream", StreamName))
	return nil
}

// PublishTrigger publishes a persisted trigger. The trigger id is used as
// the message id so a republished trigger is stored once.
func (p *EventPublisher) PublishTrigger(ctx context.Context, trigger *model.AlertTrigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	if err := model.ValidateOwnerID(trigger.OwnerID); err != nil {
		return err
	}
	_, err = p.js.Publish(triggeredSubject+trigger.OwnerID, data, nats.Context(ctx), nats.MsgId(trigger.ID))
	if err != nil {
		p.logger.Error("Failed to publish trigger",
			zap.String("trigger_id", trigger.ID),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Trigger published",
		zap.String("trigger_id", trigger.ID),
		zap.String("alert_id", trigger.AlertID))
	return nil
}

// PublishStats publishes an owner's alert stats
func (p *EventPublisher) PublishStats(ctx context.Context, stats *model.AlertStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := model.ValidateOwnerID(stats.OwnerID); err != nil {
		return err
	}
	if _, err := p.js.Publish(statsSubject+stats.OwnerID, data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish stats",
			zap.String("owner_id", stats.OwnerID),
			zap.Error(err))
		return err
	}
	return nil
}

// SubscribeTriggers delivers triggers for ownerID, or for every owner when
// ownerID is empty, until ctx is done
func (p *EventPublisher) SubscribeTriggers(ctx context.Context, ownerID string, handler func(*model.AlertTrigger)) error {
	subject := triggeredSubject + "*"
	if ownerID != "" {
		if err := model.ValidateOwnerID(ownerID); err != nil {
			return err
		}
		subject = triggeredSubject + ownerID
	}

	sub, err := p.js.Subscribe(subject, func(msg *nats.Msg) {
		var trigger model.AlertTrigger
		if err := json.Unmarshal(msg.Data, &trigger); err != nil {
			p.logger.Error("Failed to unmarshal trigger", zap.Error(err))
			_ = msg.Term()
			return
		}

		handler(&trigger)
		_ = msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	return nil
}
