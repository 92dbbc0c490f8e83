package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

// ErrDeliveryFailed is returned when at least one attempted channel failed
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Channel represents a channel for sending alert notifications
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// PreferenceSource returns an owner's delivery preferences
type PreferenceSource interface {
	Get(ctx context.Context, ownerID string) (model.NotificationPreference, error)
}

// ChannelResult is the outcome of one channel attempt
type ChannelResult struct {
	Channel string
	Err     error
}

// Delivery reports which channels were attempted for a request
type Delivery struct {
	TriggerID string
	Message   string
	Results   []ChannelResult
}

// Delivered reports whether any channel accepted the notification
func (d *Delivery) Delivered() bool {
	for _, r := range d.Results {
		if r.Err == nil {
			return true
		}
	}
	return false
}

// Dispatcher formats triggers and routes them to channels by priority and
// owner preference
type Dispatcher struct {
	prefs     PreferenceSource
	ambient   Channel
	prominent *PromptChannel
	email     Channel
	logger    *zap.Logger
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithAmbient sets the low-interruption channel
func WithAmbient(ch Channel) DispatcherOption {
	return func(d *Dispatcher) { d.ambient = ch }
}

// WithProminent sets the permission-gated channel
func WithProminent(ch *PromptChannel) DispatcherOption {
	return func(d *Dispatcher) { d.prominent = ch }
}

// WithEmail sets the email channel
func WithEmail(ch Channel) DispatcherOption {
	return func(d *Dispatcher) { d.email = ch }
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(prefs PreferenceSource, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		prefs:  prefs,
		logger: logger.Named("dispatcher"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers req on every channel selected for it. Channel failures
// are collected and returned wrapped in ErrDeliveryFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Delivery, error) {
	pref, err := d.prefs.Get(ctx, req.OwnerID)
	if err != nil {
		d.logger.Warn("Failed to load preferences, using defaults",
			zap.String("owner_id", req.OwnerID),
			zap.Error(err))
		pref = model.DefaultPreference(req.OwnerID)
	}

	message := FormatMessage(req)
	n := Notification{
		OwnerID:   req.OwnerID,
		AlertID:   req.AlertID,
		TriggerID: req.TriggerID,
		Title:     req.AlertName,
		Message:   message,
		Priority:  req.Priority,
		DeepLink:  req.DeepLink,
		Email:     pref.Email,
		SentAt:    d.now().UTC(),
	}

	delivery := &Delivery{TriggerID: req.TriggerID, Message: message}
	for _, ch := range d.selectChannels(ctx, req, pref) {
		err := ch.Send(ctx, n)
		delivery.Results = append(delivery.Results, ChannelResult{Channel: ch.Name(), Err: err})
		if err != nil {
			d.logger.Warn("Notification channel failed",
				zap.String("channel", ch.Name()),
				zap.String("trigger_id", req.TriggerID),
				zap.Error(err))
		}
	}

	var errs []error
	for _, r := range delivery.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, r.Err))
		}
	}
	if len(errs) > 0 {
		return delivery, fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(errs...))
	}

	d.logger.Debug("Notification dispatched",
		zap.String("trigger_id", req.TriggerID),
		zap.Int("channels", len(delivery.Results)))
	return delivery, nil
}

func (d *Dispatcher) selectChannels(ctx context.Context, req Request, pref model.NotificationPreference) []Channel {
	var channels []Channel
	if pref.ToastNotifications && d.ambient != nil {
		channels = append(channels, d.ambient)
	}
	if pref.BrowserNotifications && d.prominent != nil &&
		(req.Priority.Prominent() || pref.PushNotifications) &&
		d.prominent.Available(ctx) {
		channels = append(channels, d.prominent)
	}
	if pref.EmailNotifications && pref.Email != "" && d.email != nil {
		channels = append(channels, d.email)
	}
	return channels
}
