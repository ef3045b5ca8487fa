package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact representa um membro ou lead no CRM
type Contact struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email" validate:"required,email,max=320"`
	FirstName string    `json:"first_name,omitempty" validate:"max=100"`
	LastName  string    `json:"last_name,omitempty" validate:"max=100"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email so contacts dedupe by address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Transaction is a payment recorded from a provider
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	ContactID   uuid.UUID `json:"contact_id"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id" validate:"required,max=255"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency" validate:"required,len=3"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subscription statuses
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Subscription is a recurring membership held by a contact
type Subscription struct {
	ID               uuid.UUID  `json:"id"`
	ContactID        uuid.UUID  `json:"contact_id"`
	Source           string     `json:"source"`
	ExternalID       string     `json:"external_id" validate:"required,max=255"`
	Plan             string     `json:"plan" validate:"required,max=100"`
	Status           string     `json:"status" validate:"required,oneof=active past_due canceled"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
