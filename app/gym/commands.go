package gym

import (
	"time"

	"github.com/google/uuid"
)

// Command discriminators. They are persisted with every envelope and must
// never change.
const (
	InvitationCreatedType = "gym.invitation_created"
	SessionCompletedType  = "gym.session_completed"
)

// Handler names, unique per command type.
const (
	SendInvitationEmailHandler   = "send_invitation_email"
	RecordInvitationAuditHandler = "record_invitation_audit"
	NotifyTrainerHandler         = "notify_trainer"
)

// Notification types, matched by sender templates.
const (
	InvitationNotification       = "invitation"
	SessionCompletedNotification = "session_completed"
)

// EventSessionCompleted is the outbox event relayed to downstream consumers.
const EventSessionCompleted = "session.completed"

// InvitationCreated is raised when a trainer invites a trainee.
type InvitationCreated struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	TrainerID    uuid.UUID `json:"trainer_id"`
	TraineeEmail string    `json:"trainee_email"`
	TraineeName  string    `json:"trainee_name"`
}

func (InvitationCreated) CommandType() string { return InvitationCreatedType }

// SessionCompleted is raised when a trainee finishes a training session.
type SessionCompleted struct {
	SessionID   uuid.UUID `json:"session_id"`
	TraineeID   uuid.UUID `json:"trainee_id"`
	TrainerID   uuid.UUID `json:"trainer_id"`
	CompletedAt time.Time `json:"completed_at"`
}

func (SessionCompleted) CommandType() string { return SessionCompletedType }

// InvitationPayload is the payload of an invitation email notification.
type InvitationPayload struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	TrainerID    uuid.UUID `json:"trainer_id"`
	TraineeName  string    `json:"trainee_name"`
}

// SessionCompletedPayload is the payload of the trainer push notification
// and of the session.completed outbox event.
type SessionCompletedPayload struct {
	SessionID   uuid.UUID `json:"session_id"`
	TraineeID   uuid.UUID `json:"trainee_id"`
	TrainerID   uuid.UUID `json:"trainer_id"`
	CompletedAt time.Time `json:"completed_at"`
}
