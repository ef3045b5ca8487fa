package crm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/repository"
)

//go:embed schema/payload.json
var payloadSchema []byte

const schemaURL = "payload.json"

// Payload is the normalized body every source is translated into before
// it reaches the CRM
type Payload struct {
	EventType    string               `json:"event_type"`
	Contact      ContactPayload       `json:"contact"`
	Transaction  *TransactionPayload  `json:"transaction,omitempty"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
}

type ContactPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type TransactionPayload struct {
	ExternalID  string    `json:"external_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type SubscriptionPayload struct {
	ExternalID       string     `json:"external_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Processor writes the CRM records of a verified delivery in one transaction
type Processor struct {
	db     repository.PgxPool
	schema *jsonschema.Schema
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(db repository.PgxPool, logger *slog.Logger) (*Processor, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Processor{
		db:     db,
		schema: schema,
		logger: logger.With("component", "crm"),
		now:    time.Now,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parse payload schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add payload schema: %w", err)
	}

	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return schema, nil
}

// Decode validates raw against the payload schema and decodes it
func (p *Processor) Decode(raw []byte) (*Payload, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.ErrInvalidPayload.WithError(fmt.Errorf("payload is not json: %w", err))
	}
	if err := p.schema.Validate(inst); err != nil {
		return nil, domain.ErrInvalidPayload.WithError(err)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.ErrInvalidPayload.WithError(err)
	}
	return &payload, nil
}

// Process upserts the contact, then the optional transaction and
// subscription, and returns links to whatever it wrote
func (p *Processor) Process(ctx context.Context, source, eventType string, raw []byte) (domain.EventLinks, error) {
	payload, err := p.Decode(raw)
	if err != nil {
		return domain.EventLinks{}, err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return domain.EventLinks{}, fmt.Errorf("begin crm write: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var links domain.EventLinks

	contact := &domain.Contact{
		Email:     payload.Contact.Email,
		FirstName: strings.TrimSpace(payload.Contact.FirstName),
		LastName:  strings.TrimSpace(payload.Contact.LastName),
	}
	if err := repository.NewContactRepository(tx).Upsert(ctx, contact); err != nil {
		return domain.EventLinks{}, err
	}
	links.ContactID = &contact.ID

	if t := payload.Transaction; t != nil {
		occurredAt := t.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = p.now().UTC()
		}
		txn := &domain.Transaction{
			ContactID:   contact.ID,
			Source:      source,
			ExternalID:  t.ExternalID,
			AmountCents: t.AmountCents,
			Currency:    t.Currency,
			OccurredAt:  occurredAt,
		}
		if err := repository.NewTransactionRepository(tx).Upsert(ctx, txn); err != nil {
			return domain.EventLinks{}, err
		}
		links.TransactionID = &txn.ID
	}

	if s := payload.Subscription; s != nil {
		sub := &domain.Subscription{
			ContactID:        contact.ID,
			Source:           source,
			ExternalID:       s.ExternalID,
			Plan:             s.Plan,
			Status:           s.Status,
			CurrentPeriodEnd: s.CurrentPeriodEnd,
		}
		if err := repository.NewSubscriptionRepository(tx).Upsert(ctx, sub); err != nil {
			return domain.EventLinks{}, err
		}
		links.SubscriptionID = &sub.ID
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.EventLinks{}, fmt.Errorf("commit crm write: %w", err)
	}

	if eventType == "" {
		eventType = payload.EventType
	}
	p.logger.DebugContext(ctx, "crm records written",
		"source", source,
		"event_type", eventType,
		"contact_id", contact.ID,
	)

	return links, nil
}
