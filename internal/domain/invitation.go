package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invitation event types. One invite → accept → user-created sequence is a
// single business transaction sharing one correlation id.
const (
	EventInvitationSent        = "invitation.sent"
	EventInvitationAccepted    = "invitation.accepted"
	EventInvitationUserCreated = "invitation.user_created"
	EventInvitationRevoked     = "invitation.revoked"
)

// Invitation statuses.
const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusRevoked  = "revoked"
)

// Invitation anchors a multi-step onboarding transaction. The correlation
// id assigned when the invitation is sent is stored here and reused,
// never regenerated, by every later step of the same transaction.
type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	CorrelationID  string     `json:"correlation_id"`
	InvitedBy      string     `json:"invited_by"`
	Path           string     `json:"path"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
