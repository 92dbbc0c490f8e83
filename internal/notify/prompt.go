package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Availability is the state of the permission-gated channel
type Availability int

const (
	// Unauthorized means permission has not been granted yet or was denied
	Unauthorized Availability = iota
	// Authorized means notifications can be delivered
	Authorized
	// Unsupported means the host cannot deliver this channel at all
	Unsupported
)

func (a Availability) String() string {
	switch a {
	case Authorized:
		return "authorized"
	case Unsupported:
		return "unsupported"
	default:
		return "unauthorized"
	}
}

var errPromptUnavailable = errors.New("prominent channel unavailable")

// PushHost is the surface able to show interrupting notifications
type PushHost interface {
	// Supported reports whether the host can deliver push notifications
	Supported() bool
	// RequestPermission asks the owner once and reports whether it was granted
	RequestPermission(ctx context.Context) (bool, error)
	// Push delivers a notification
	Push(ctx context.Context, n Notification) error
}

// PromptChannel delivers through a PushHost after permission is granted.
// Permission is requested at most once and the answer is cached for the
// lifetime of the channel.
type PromptChannel struct {
	host   PushHost
	logger *zap.Logger

	mu        sync.Mutex
	state     Availability
	requested bool
}

// NewPromptChannel creates a channel in the Unauthorized state, or
// Unsupported when the host cannot push
func NewPromptChannel(host PushHost, logger *zap.Logger) *PromptChannel {
	c := &PromptChannel{
		host:   host,
		logger: logger.Named("prompt-channel"),
		state:  Unauthorized,
	}
	if host == nil || !host.Supported() {
		c.state = Unsupported
	}
	return c
}

// Name implements Channel.Name
func (c *PromptChannel) Name() string { return "prominent" }

// State returns the current availability
func (c *PromptChannel) State() Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Available reports whether Send can deliver, requesting permission on the
// first call while Unauthorized. Callers arriving while that request is
// outstanding see the channel as unavailable instead of waiting on it.
func (c *PromptChannel) Available(ctx context.Context) bool {
	c.mu.Lock()
	switch c.state {
	case Unsupported:
		c.mu.Unlock()
		return false
	case Authorized:
		c.mu.Unlock()
		return true
	}
	if c.requested {
		c.mu.Unlock()
		return false
	}
	c.requested = true
	c.mu.Unlock()

	granted, err := c.host.RequestPermission(ctx)
	if err != nil {
		c.logger.Warn("Permission request failed, falling back to ambient delivery", zap.Error(err))
		return false
	}
	if !granted {
		c.logger.Info("Permission denied, falling back to ambient delivery")
		return false
	}
	c.mu.Lock()
	c.state = Authorized
	c.mu.Unlock()
	c.logger.Info("Permission granted")
	return true
}

// Send implements Channel.Send
func (c *PromptChannel) Send(ctx context.Context, n Notification) error {
	if !c.Available(ctx) {
		return errPromptUnavailable
	}
	return c.host.Push(ctx, n)
}
