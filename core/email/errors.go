package email

import "errors"

// Error variables define email failures that providers wrap with detailed
// context using errors.Join().
var (
	ErrFailedToSendEmail = errors.New("failed to send email")
	ErrInvalidConfig     = errors.New("invalid email configuration")
	ErrNoTemplate        = errors.New("no email template for notification type")
	ErrWrongChannel      = errors.New("notification is not an email")
)
