package relay

import (
	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/core/server"
	"github.com/dmitrymomot/relay/integration/broker/kafka"
	"github.com/dmitrymomot/relay/integration/database/pg"
	"github.com/dmitrymomot/relay/integration/database/redis"
)

// Jobs backends.
const (
	BackendPostgres = "pg"
	BackendRedis    = "redis"
)

// Email providers.
const (
	EmailDev      = "dev"
	EmailPostmark = "postmark"
	EmailSMTP     = "smtp"
)

type Config struct {
	DB           pg.Config
	Redis        redis.Config
	Queue        queue.Config
	Command      command.Config
	Outbox       outbox.Config
	Notification notification.Config
	Kafka        kafka.Config
	Server       server.Config

	AppName       string `env:"APP_NAME" envDefault:"relay"`
	Env           string `env:"APP_ENV" envDefault:"development"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	JobsBackend   string `env:"JOBS_BACKEND" envDefault:"pg"`
	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"dev"`
	InvitationURL string `env:"INVITATION_URL" envDefault:"http://localhost:8080/invitations/%s"`
}
