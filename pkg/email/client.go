// Package email sends plain-text notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mail.v2"
)

// Client represents an SMTP client used to send notifications.
type Client struct {
	from   string
	dialer *mail.Dialer
	send   func(*mail.Message) error
}

// NewClient creates a new SMTP Client.
func NewClient(smtpHost string, smtpPort int, username, password, from string) *Client {
	dialer := mail.NewDialer(smtpHost, smtpPort, username, password)
	dialer.Timeout = 15 * time.Second

	return &Client{
		from:   from,
		dialer: dialer,
		send: func(m *mail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

func (c *Client) message(to, subject, body string) *mail.Message {
	message := mail.NewMessage()

	message.SetHeader("From", c.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)

	message.SetBody("text/plain", body)

	return message
}

// Send delivers one message to the given address.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.send(c.message(to, subject, body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}
