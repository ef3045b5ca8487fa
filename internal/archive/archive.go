package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// Store persists one archive object
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// JSONL buffers ledger rows as newline-delimited JSON
type JSONL struct {
	buf bytes.Buffer
	enc *json.Encoder
	n   int
}

func NewJSONL() *JSONL {
	w := &JSONL{}
	w.enc = json.NewEncoder(&w.buf)
	return w
}

// Write appends one row
func (w *JSONL) Write(ev domain.WebhookEvent) error {
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	w.n++
	return nil
}

// Len is the number of rows written
func (w *JSONL) Len() int { return w.n }

func (w *JSONL) Bytes() []byte { return w.buf.Bytes() }

// Key names the archive of rows received before cutoff, e.g.
// webhook_events/2026/01/30/20260130T000000Z-1772366400.jsonl
func Key(prefix string, cutoff, now time.Time) string {
	cutoff = cutoff.UTC()
	name := fmt.Sprintf("%s-%d.jsonl", cutoff.Format("20060102T150405Z"), now.Unix())
	return path.Join(prefix, "webhook_events", cutoff.Format("2006/01/02"), name)
}
