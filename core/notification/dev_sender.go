package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender implements Sender for local development.
// It saves each notification as a JSON file in a directory
// instead of handing it to a provider.
type DevSender struct {
	dir string
	now func() time.Time
}

// NewDevSender creates a development sender that writes to dir.
// The directory will be created if it doesn't exist.
func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir, now: time.Now}
}

// devRecord is the file content written per notification.
type devRecord struct {
	Timestamp     string          `json:"timestamp"`
	ID            string          `json:"id"`
	Channel       string          `json:"channel"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Recipient     string          `json:"recipient"`
	Attempt       int             `json:"attempt"`
	Payload       json.RawMessage `json:"payload"`
}

// Send writes the notification to disk and always reports it delivered.
func (d *DevSender) Send(_ context.Context, msg *Message) (bool, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}

	now := d.now()
	record := devRecord{
		Timestamp:     now.Format(time.RFC3339),
		ID:            msg.ID.String(),
		Channel:       msg.Channel,
		Type:          msg.Type,
		CorrelationID: msg.CorrelationID,
		Recipient:     msg.Recipient,
		Attempt:       msg.Attempts + 1,
		Payload:       msg.Payload,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal notification: %w", err)
	}

	// Timestamp prefix keeps files in chronological order.
	name := fmt.Sprintf("%s_%s_%s.json", now.Format("2006_01_02_150405"), sanitizeFilename(msg.Type), msg.ID)
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); err != nil {
		return false, fmt.Errorf("write notification file: %w", err)
	}
	return true, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// sanitizeFilename converts a string into a safe filename component.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")

	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "notification"
	}
	return strings.ToLower(s)
}
