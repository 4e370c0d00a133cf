package email_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/email"
	"github.com/dmitrymomot/relay/core/notification"
)

type invitation struct {
	Gym string `json:"gym"`
}

func templates() email.Templates {
	return email.Templates{
		"invitation": email.JSONTemplate(func(_ *notification.Message, p invitation) (email.Content, error) {
			return email.Content{Subject: "Join " + p.Gym, TextBody: "See you at " + p.Gym}, nil
		}),
	}
}

func message() *notification.Message {
	return &notification.Message{
		Channel:   notification.ChannelEmail,
		Type:      "invitation",
		Recipient: "member@example.com",
		Payload:   json.RawMessage(`{"gym":"North"}`),
	}
}

func TestTemplates_Render(t *testing.T) {
	t.Parallel()

	content, err := templates().Render(message())
	require.NoError(t, err)
	assert.Equal(t, "Join North", content.Subject)
	assert.Equal(t, "See you at North", content.TextBody)
	assert.Equal(t, "invitation", content.Tag, "tag defaults to the notification type")

	t.Run("wrong channel", func(t *testing.T) {
		t.Parallel()

		msg := message()
		msg.Channel = notification.ChannelPush
		_, err := templates().Render(msg)
		assert.ErrorIs(t, err, email.ErrWrongChannel)
	})

	t.Run("no template", func(t *testing.T) {
		t.Parallel()

		msg := message()
		msg.Type = "receipt"
		_, err := templates().Render(msg)
		assert.ErrorIs(t, err, email.ErrNoTemplate)
	})

	t.Run("bad payload", func(t *testing.T) {
		t.Parallel()

		msg := message()
		msg.Payload = json.RawMessage(`[`)
		_, err := templates().Render(msg)
		assert.ErrorContains(t, err, "decode invitation payload")
	})
}

func TestIsValidAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, email.IsValidAddress("coach.anna+gym@north.example"))
	assert.False(t, email.IsValidAddress("coach"))
	assert.False(t, email.IsValidAddress("Anna <anna@north.example>"))
}
