package outbox

import "time"

const (
	// DefaultMaxAttempts is the number of failed attempts after which a
	// message or a delivery becomes terminally Failed.
	DefaultMaxAttempts = 5
	// MaxLastErrorLength caps persisted error text.
	MaxLastErrorLength = 4000
)

// Config holds the outbox settings.
type Config struct {
	MaxAttempts      int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	BatchSize        int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	DispatchInterval time.Duration `env:"OUTBOX_DISPATCH_INTERVAL" envDefault:"5s"`
	HandlerTimeout   time.Duration `env:"OUTBOX_HANDLER_TIMEOUT" envDefault:"1m"`
	LeaseTimeout     time.Duration `env:"OUTBOX_LEASE_TIMEOUT" envDefault:"10m"`
	PendingGrace     time.Duration `env:"OUTBOX_PENDING_GRACE" envDefault:"1m"`
	SweepInterval    time.Duration `env:"OUTBOX_SWEEP_INTERVAL" envDefault:"1m"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      DefaultMaxAttempts,
		BatchSize:        100,
		DispatchInterval: 5 * time.Second,
		HandlerTimeout:   time.Minute,
		LeaseTimeout:     10 * time.Minute,
		PendingGrace:     time.Minute,
		SweepInterval:    time.Minute,
	}
}
