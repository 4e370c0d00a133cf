package notification

import "time"

// DefaultMaxAttempts is the number of failed send attempts after which a
// notification becomes Failed.
const DefaultMaxAttempts = 5

// MaxLastErrorLength caps persisted error text.
const MaxLastErrorLength = 4000

// Config holds the notification settings.
type Config struct {
	MaxAttempts   int           `env:"NOTIFICATION_MAX_ATTEMPTS" envDefault:"5"`
	PendingGrace  time.Duration `env:"NOTIFICATION_PENDING_GRACE" envDefault:"1m"`
	SweepBatch    int           `env:"NOTIFICATION_SWEEP_BATCH" envDefault:"100"`
	SweepInterval time.Duration `env:"NOTIFICATION_SWEEP_INTERVAL" envDefault:"1m"`
	DevDir        string        `env:"NOTIFICATION_DEV_DIR" envDefault:"./tmp/notifications"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		PendingGrace:  time.Minute,
		SweepBatch:    100,
		SweepInterval: time.Minute,
		DevDir:        "./tmp/notifications",
	}
}
