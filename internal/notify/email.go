package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers notifications over SMTP
type EmailChannel struct {
	config   EmailConfig
	logger   *zap.Logger
	sendMail sendMailFunc
}

// NewEmailChannel creates an email channel
func NewEmailChannel(config EmailConfig, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		config:   config,
		logger:   logger.Named("email"),
		sendMail: smtp.SendMail,
	}
}

// Name implements Channel.Name
func (c *EmailChannel) Name() string { return "email" }

// Send implements Channel.Send
func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if n.Email == "" {
		return errors.New("no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: [%s] %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		c.config.From,
		n.Email,
		n.Priority,
		n.Title,
		n.Message)
	if n.DeepLink != "" {
		msg += "\r\n" + n.DeepLink + "\r\n"
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	if err := c.sendMail(addr, auth, c.config.From, []string{n.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Debug("Email sent",
		zap.String("trigger_id", n.TriggerID),
		zap.String("to", n.Email))
	return nil
}
