package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata
var validate = validator.New()

// Validate checks field constraints of a ledger row before it is written
func (e *WebhookEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid webhook event: %w", err)
	}
	return nil
}

// Validate checks the contact fields
func (c *Contact) Validate() error {
	return validate.Struct(c)
}

// Validate checks the transaction fields
func (t *Transaction) Validate() error {
	return validate.Struct(t)
}

// Validate checks the subscription fields
func (s *Subscription) Validate() error {
	return validate.Struct(s)
}

// Validate checks listing parameters
func (f *EventFilter) Validate() error {
	if err := validate.Struct(f); err != nil {
		return ErrValidationFailed.WithError(err)
	}
	return nil
}

// ValidateStruct runs the shared validator on any tagged struct
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
