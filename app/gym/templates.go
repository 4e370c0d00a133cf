package gym

import (
	"fmt"
	"html"

	"github.com/dmitrymomot/relay/core/email"
	"github.com/dmitrymomot/relay/core/notification"
)

// EmailTemplates returns the email templates of the gym notification
// types. acceptURL formats the invitation link from the invitation id.
func EmailTemplates(acceptURL string) email.Templates {
	return email.Templates{
		InvitationNotification: email.JSONTemplate(func(_ *notification.Message, p InvitationPayload) (email.Content, error) {
			link := fmt.Sprintf(acceptURL, p.InvitationID)
			name := p.TraineeName
			if name == "" {
				name = "there"
			}
			return email.Content{
				Subject:  "You have been invited to train",
				Tag:      InvitationNotification,
				TextBody: fmt.Sprintf("Hi %s,\n\nYour trainer invited you. Accept the invitation: %s\n", name, link),
				HTMLBody: fmt.Sprintf(`<p>Hi %s,</p><p>Your trainer invited you.</p><p><a href="%s">Accept the invitation</a></p>`,
					html.EscapeString(name), html.EscapeString(link)),
			}, nil
		}),
	}
}
