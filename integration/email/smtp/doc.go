// Package smtp sends email notifications through any SMTP server.
//
// Sender implements notification.Sender for the email channel. It renders
// each notification with its email.Template and supports STARTTLS, direct
// TLS and plain connections:
//
//	sender, err := smtp.New(smtp.Config{
//		Host:         "smtp.example.com",
//		Port:         587,
//		Username:     "relay",
//		Password:     "secret",
//		TLSMode:      smtp.TLSModeStartTLS,
//		SenderEmail:  "noreply@example.com",
//		SupportEmail: "support@example.com",
//	}, templates)
//
// Messages with both a text and an HTML body go out as
// multipart/alternative. The Message-ID derives from the notification id,
// so a retry after a lost server reply can be deduplicated downstream.
//
// Configuration comes from the environment:
//
//	SMTP_HOST       server host (required)
//	SMTP_PORT       server port (default 587)
//	SMTP_USERNAME   PLAIN auth user (required)
//	SMTP_PASSWORD   PLAIN auth password (required)
//	SMTP_TLS_MODE   starttls, tls or plain (default starttls)
//	SMTP_TIMEOUT    per-message deadline when the context has none (default 30s)
//	SENDER_EMAIL    From address (required)
//	SUPPORT_EMAIL   Reply-To address (required)
package smtp
