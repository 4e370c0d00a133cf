package email

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dmitrymomot/relay/core/notification"
)

// Content is a rendered email.
type Content struct {
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

// Template renders the email for one notification type.
type Template func(msg *notification.Message) (Content, error)

// Templates maps a notification type to its renderer.
type Templates map[string]Template

// JSONTemplate decodes the notification payload into T before rendering.
func JSONTemplate[T any](render func(msg *notification.Message, data T) (Content, error)) Template {
	return func(msg *notification.Message) (Content, error) {
		var data T
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return Content{}, fmt.Errorf("decode %s payload: %w", msg.Type, err)
		}
		return render(msg, data)
	}
}

// Render renders msg with the template of its type. The tag defaults to the
// notification type.
func (t Templates) Render(msg *notification.Message) (Content, error) {
	if msg.Channel != notification.ChannelEmail {
		return Content{}, fmt.Errorf("%w: %s", ErrWrongChannel, msg.Channel)
	}
	render, ok := t[msg.Type]
	if !ok {
		return Content{}, fmt.Errorf("%w: %s", ErrNoTemplate, msg.Type)
	}
	content, err := render(msg)
	if err != nil {
		return Content{}, err
	}
	if content.Tag == "" {
		content.Tag = msg.Type
	}
	return content, nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidAddress reports whether s looks like a bare email address.
func IsValidAddress(s string) bool {
	return emailRegex.MatchString(s)
}
