// Package postmark sends email notifications through Postmark's
// transactional API.
//
// Sender implements notification.Sender for the email channel and renders
// each notification with its email.Template:
//
//	sender, err := postmark.New(cfg, email.Templates{
//		"invitation": email.JSONTemplate(renderInvitation),
//	})
//
// Opens and HTML link clicks are tracked, and Reply-To is the support
// address. A transport failure or a Postmark error code yields
// delivered=false with an error wrapping email.ErrFailedToSendEmail; the
// notification deliverer counts the attempt and retries up to its cap.
//
// Configuration comes from the environment:
//
//	POSTMARK_SERVER_TOKEN   server API token
//	POSTMARK_ACCOUNT_TOKEN  account API token
//	SENDER_EMAIL            From address (required)
//	SUPPORT_EMAIL           Reply-To address (required)
package postmark
