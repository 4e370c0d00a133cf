// Package email holds what the email providers share: rendering a
// notification into subject and bodies, and the provider error values.
//
// Each notification type maps to a Template. JSONTemplate decodes the stored
// payload into a typed value first:
//
//	templates := email.Templates{
//		"invitation": email.JSONTemplate(func(msg *notification.Message, p invitation) (email.Content, error) {
//			return email.Content{Subject: "You're invited", TextBody: "Join " + p.Gym}, nil
//		}),
//	}
//	content, err := templates.Render(msg)
//
// Render rejects notifications of other channels with ErrWrongChannel and
// types without a template with ErrNoTemplate. Providers wrap transport
// failures with ErrFailedToSendEmail so the deliverer records the attempt
// and retries.
package email
