package postmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/relay/core/email"
	"github.com/dmitrymomot/relay/core/notification"
)

// API is the part of the Postmark client the sender uses.
type API interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Sender delivers email notifications through Postmark.
type Sender struct {
	api       API
	config    Config
	templates email.Templates
}

var _ notification.Sender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithAPI replaces the Postmark client, e.g. with a fake in tests.
func WithAPI(api API) Option {
	return func(s *Sender) {
		if api != nil {
			s.api = api
		}
	}
}

// New creates a Postmark-backed sender rendering with templates.
func New(cfg Config, templates email.Templates, opts ...Option) (*Sender, error) {
	if !email.IsValidAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", email.ErrInvalidConfig)
	}
	if !email.IsValidAddress(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", email.ErrInvalidConfig)
	}

	s := &Sender{config: cfg, templates: templates}
	for _, opt := range opts {
		opt(s)
	}
	if s.api == nil {
		if cfg.PostmarkServerToken == "" {
			return nil, fmt.Errorf("%w: PostmarkServerToken is required", email.ErrInvalidConfig)
		}
		s.api = postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	}
	return s, nil
}

// MustNew is New that panics on invalid configuration.
func MustNew(cfg Config, templates email.Templates, opts ...Option) *Sender {
	s, err := New(cfg, templates, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Send renders and sends msg. A Postmark error code is reported as not
// delivered, so the deliverer records the attempt and retries.
func (s *Sender) Send(ctx context.Context, msg *notification.Message) (bool, error) {
	content, err := s.templates.Render(msg)
	if err != nil {
		return false, err
	}

	resp, err := s.api.SendEmail(ctx, postmark.Email{
		From:       s.config.SenderEmail,
		ReplyTo:    s.config.SupportEmail,
		To:         msg.Recipient,
		Subject:    content.Subject,
		Tag:        content.Tag,
		HTMLBody:   content.HTMLBody,
		TextBody:   content.TextBody,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return false, errors.Join(email.ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return false, errors.Join(
			email.ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return true, nil
}
