package command

import "time"

const (
	// DefaultMaxAttempts is the number of failed attempts after which an envelope is dead-lettered.
	DefaultMaxAttempts = 3
	// DefaultMaxConcurrency bounds the handler fan-out of a single envelope.
	DefaultMaxConcurrency = 4
)

// Config holds the command pipeline settings.
type Config struct {
	MaxAttempts    int           `env:"COMMAND_MAX_ATTEMPTS" envDefault:"3"`
	MaxConcurrency int           `env:"COMMAND_MAX_CONCURRENCY" envDefault:"4"`
	HandlerTimeout time.Duration `env:"COMMAND_HANDLER_TIMEOUT" envDefault:"5m"`
	LeaseTimeout   time.Duration `env:"COMMAND_LEASE_TIMEOUT" envDefault:"10m"`
	PendingGrace   time.Duration `env:"COMMAND_PENDING_GRACE" envDefault:"1m"`
	SweepBatch     int           `env:"COMMAND_SWEEP_BATCH" envDefault:"100"`
	SweepInterval  time.Duration `env:"COMMAND_SWEEP_INTERVAL" envDefault:"1m"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		MaxConcurrency: DefaultMaxConcurrency,
		HandlerTimeout: 5 * time.Minute,
		LeaseTimeout:   10 * time.Minute,
		PendingGrace:   time.Minute,
		SweepBatch:     100,
		SweepInterval:  time.Minute,
	}
}
