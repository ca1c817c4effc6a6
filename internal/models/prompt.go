package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Prompt struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Organization  uuid.UUID `json:"organization" db:"organization"`
	UserDefinedID string    `json:"user_defined_id" db:"user_defined_id"`
	Description   string    `json:"description,omitempty" db:"description"`
	Metadata      Document  `json:"metadata" db:"metadata"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CreatedFromUI reports whether the prompt may be edited in a session.
// Prompts registered from code set createdFromUi=false in their metadata.
func (p *Prompt) CreatedFromUI() bool {
	var meta VersionMetadata
	if err := p.Metadata.Decode(&meta); err != nil {
		return true
	}
	return meta.CreatedFromUI == nil || *meta.CreatedFromUI
}

type PromptVersion struct {
	ID               uuid.UUID `json:"id" db:"id"`
	PromptID         uuid.UUID `json:"prompt_v2" db:"prompt_v2"`
	Organization     uuid.UUID `json:"organization" db:"organization"`
	MajorVersion     int       `json:"major_version" db:"major_version"`
	MinorVersion     int       `json:"minor_version" db:"minor_version"`
	HeliconeTemplate Document  `json:"helicone_template" db:"helicone_template"`
	Model            string    `json:"model,omitempty" db:"model"`
	Metadata         Document  `json:"metadata" db:"metadata"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

func (v *PromptVersion) IsProduction() bool {
	var meta VersionMetadata
	if err := v.Metadata.Decode(&meta); err != nil {
		return false
	}
	return meta.IsProduction
}

// Template is the helicone_template body of a version.
type Template struct {
	Model       string            `json:"model,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Messages    []json.RawMessage `json:"messages"`
	Evals       json.RawMessage   `json:"evals,omitempty"`
	Structure   json.RawMessage   `json:"structure,omitempty"`
}

type VersionMetadata struct {
	Provider      string            `json:"provider,omitempty"`
	IsProduction  bool              `json:"isProduction"`
	CreatedFromUI *bool             `json:"createdFromUi,omitempty"`
	Inputs        map[string]string `json:"inputs,omitempty"`
}

// Document holds a JSON column that was stored either as an encoded string
// or as a JSON value. Decode resolves both forms.
type Document struct {
	raw    string
	parsed json.RawMessage
	isRaw  bool
}

func RawDocument(text string) Document {
	return Document{raw: text, isRaw: true}
}

func ParsedDocument(v json.RawMessage) Document {
	return Document{parsed: append(json.RawMessage(nil), v...)}
}

// NewDocument encodes v as a parsed document.
func NewDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("marshal document: %w", err)
	}
	return Document{parsed: b}, nil
}

func (d Document) IsRaw() bool { return d.isRaw }

func (d Document) IsZero() bool {
	if d.isRaw {
		return d.raw == ""
	}
	p := bytes.TrimSpace(d.parsed)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// Bytes returns the JSON value the document resolves to.
func (d Document) Bytes() []byte {
	if d.isRaw {
		return []byte(d.raw)
	}
	return d.parsed
}

func (d Document) Decode(v any) error {
	if d.IsZero() {
		return nil
	}
	if err := json.Unmarshal(d.Bytes(), v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.isRaw {
		return json.Marshal(d.raw)
	}
	if len(bytes.TrimSpace(d.parsed)) == 0 {
		return []byte("null"), nil
	}
	return d.parsed, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = RawDocument(s)
		return nil
	}
	*d = ParsedDocument(data)
	return nil
}
