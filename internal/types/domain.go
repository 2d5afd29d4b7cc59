package types

import (
	"encoding/json"
	"time"
)

// Document is the stored form of a document definition: the raw declarative
// block description plus identity and bookkeeping. The definition is kept
// verbatim as authored (JSONB); it is parsed into a block tree at render time,
// never at storage time, so stored documents survive registry evolution.
type Document struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Definition DefinitionData `json:"definition" db:"definition"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// Render records one render of a document: the context it was rendered for,
// the outcome, and timing. Output HTML is not stored here (it can be large
// and is re-derivable); only its size is kept for observability.
type Render struct {
	ID          string         `json:"id" db:"id"`
	DocumentID  string         `json:"document_id" db:"document_id"`
	Status      RenderStatus   `json:"status" db:"status"`
	Context     RenderContext  `json:"context" db:"context"`
	OutputBytes int            `json:"output_bytes" db:"output_bytes"`
	Error       string         `json:"error,omitempty" db:"error"`
	DurationMS  int64          `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// RenderContext describes the audience a document is rendered for: the device
// class, the client (mail application) identifier, and free-form receiver
// attributes. Visibility predicates are evaluated against these three axes.
type RenderContext struct {
	Device   string            `json:"device,omitempty"`
	Client   string            `json:"client,omitempty"`
	Receiver map[string]string `json:"receiver,omitempty"`
}

// APIKey is the stored representation of an API key. Only the bcrypt hash of
// the secret is persisted; Prefix is the non-secret leading fragment used for
// indexed lookup before hash verification.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Prefix     string     `json:"prefix" db:"prefix"`
	KeyHash    string     `json:"-" db:"key_hash"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// DefinitionData holds a document definition as raw JSON. It round-trips
// through the API and the database without re-marshaling, preserving the
// author's property set byte-for-byte.
type DefinitionData json.RawMessage

// MarshalJSON emits the raw definition unchanged.
func (d DefinitionData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON captures the raw definition bytes unchanged.
func (d *DefinitionData) UnmarshalJSON(data []byte) error {
	*d = append((*d)[0:0], data...)
	return nil
}
