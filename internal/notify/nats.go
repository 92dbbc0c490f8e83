package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

const (
	toastSubjectPrefix = "notify.toast."
	pushSubjectPrefix  = "notify.push."
	permissionSubject  = "notify.permission"
	pushStreamName     = "NOTIFY_PUSH"
)

// ToastChannel publishes ambient notifications on core NATS for the
// presentation layer to render
type ToastChannel struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewToastChannel creates a toast channel
func NewToastChannel(nc *nats.Conn, logger *zap.Logger) *ToastChannel {
	return &ToastChannel{nc: nc, logger: logger.Named("toast")}
}

// Name implements Channel.Name
func (c *ToastChannel) Name() string { return "ambient" }

// Send implements Channel.Send
func (c *ToastChannel) Send(ctx context.Context, n Notification) error {
	if err := model.ValidateOwnerID(n.OwnerID); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.nc.Publish(toastSubjectPrefix+n.OwnerID, data); err != nil {
		return fmt.Errorf("failed to publish toast: %w", err)
	}
	return nil
}

// NATSPushHost delivers prominent notifications through JetStream so
// consumers can replay them. The trigger id is used as the message id, which
// lets the stream drop redelivered duplicates.
type NATSPushHost struct {
	nc                *nats.Conn
	js                nats.JetStreamContext
	permissionTimeout time.Duration
	logger            *zap.Logger
}

// NewNATSPushHost creates a push host and ensures its stream exists
func NewNATSPushHost(nc *nats.Conn, js nats.JetStreamContext, permissionTimeout time.Duration, logger *zap.Logger) (*NATSPushHost, error) {
	if permissionTimeout <= 0 {
		permissionTimeout = 5 * time.Second
	}
	h := &NATSPushHost{
		nc:                nc,
		js:                js,
		permissionTimeout: permissionTimeout,
		logger:            logger.Named("push-host"),
	}

	_, err := js.StreamInfo(pushStreamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:       pushStreamName,
			Subjects:   []string{pushSubjectPrefix + ">"},
			Storage:    nats.FileStorage,
			MaxAge:     24 * time.Hour,
			Duplicates: 10 * time.Minute,
		}); err != nil {
			return nil, fmt.Errorf("failed to create push stream: %w", err)
		}
		h.logger.Info("Created push stream", zap.String("name", pushStreamName))
	}
	return h, nil
}

// Supported implements PushHost.Supported
func (h *NATSPushHost) Supported() bool {
	return h.nc != nil && h.nc.IsConnected()
}

// permissionReply is the answer expected on the permission subject
type permissionReply struct {
	Granted bool `json:"granted"`
}

// RequestPermission implements PushHost.RequestPermission. It asks whoever
// answers on notify.permission; no responder counts as a denial.
func (h *NATSPushHost) RequestPermission(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.permissionTimeout)
	defer cancel()

	msg, err := h.nc.RequestWithContext(ctx, permissionSubject, []byte(`{"channel":"push"}`))
	if errors.Is(err, nats.ErrNoResponders) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("permission request failed: %w", err)
	}

	var reply permissionReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("invalid permission reply: %w", err)
	}
	return reply.Granted, nil
}

// Push implements PushHost.Push
func (h *NATSPushHost) Push(ctx context.Context, n Notification) error {
	if err := model.ValidateOwnerID(n.OwnerID); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if n.TriggerID != "" {
		opts = append(opts, nats.MsgId(n.TriggerID))
	}
	ack, err := h.js.Publish(pushSubjectPrefix+n.OwnerID, data, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}
	if ack.Duplicate {
		h.logger.Debug("Duplicate push suppressed", zap.String("trigger_id", n.TriggerID))
	}
	return nil
}
