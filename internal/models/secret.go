package models

import (
	"encoding/json"
	"time"
)

// SecretParcel is a short-lived encrypted credential bundle tied to one
// document's processing. The payload is opaque to this service; lane workers
// forward it to upstream calls made on behalf of the uploader.
type SecretParcel struct {
	DocKey    string          `json:"doc_key"`
	User      string          `json:"user,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks if the secret parcel is valid
func (p *SecretParcel) Validate() error {
	if p.DocKey == "" {
		return &ValidationError{Field: "doc_key", Message: "document key is required"}
	}
	if len(p.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "payload is required"}
	}
	return nil
}

// Age returns how long ago the parcel was stored
func (p *SecretParcel) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
