// Package corpus reads, validates and persists catalog records awaiting
// translation.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

// DefaultField is the field name used when a record does not carry one
const DefaultField = "text"

// State is a record's position in its lifecycle
type State string

const (
	StateQueued     State = "queued"
	StateInFlight   State = "in_flight"
	StateTranslated State = "translated"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Terminal reports whether no further transition is allowed
func (s State) Terminal() bool {
	return s == StateTranslated || s == StateFailed || s == StateSkipped
}

var transitions = map[State][]State{
	StateQueued:   {StateInFlight, StateSkipped},
	StateInFlight: {StateTranslated, StateFailed},
}

// RecordID is a catalog object id, either a JSON number or a JSON string.
// The original form is kept so output files round-trip.
type RecordID struct {
	raw     string
	numeric bool
}

// StringID returns a string id
func StringID(s string) RecordID { return RecordID{raw: s} }

// NumericID returns a numeric id
func NumericID(n int64) RecordID { return RecordID{raw: fmt.Sprint(n), numeric: true} }

func (id RecordID) String() string { return id.raw }

// IsZero reports whether the id is unset
func (id RecordID) IsZero() bool { return id.raw == "" }

func (id RecordID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = RecordID{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID{raw: s}
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id must be a number or a string: %w", err)
		}
		*id = RecordID{raw: n.String(), numeric: true}
		return nil
	}
}

// Translation is the successful result stored on a record
type Translation struct {
	Text       string `json:"text"`
	Provider   string `json:"provider"`
	DurationMs int64  `json:"durationMs"`
}

// Record is one translatable field of one catalog object.
// Fields not listed here are preserved verbatim in Extra.
type Record struct {
	ID          RecordID
	Field       string
	SourceLang  string
	TargetLang  string
	Text        string
	Translation *Translation
	Error       string
	Extra       map[string]json.RawMessage

	state      State
	objectKey  string // key of the enclosing object in object-shaped files
	implicitID bool   // id came from objectKey
}

// Key identifies the record within a corpus: "<id>/<field>"
func (r *Record) Key() string {
	field := r.Field
	if field == "" {
		field = DefaultField
	}
	return r.ID.String() + "/" + slug.Make(field)
}

// ObjectKey returns the key the record was stored under in an object-shaped
// file, or "" for array records.
func (r *Record) ObjectKey() string {
	return r.objectKey
}

// State returns the lifecycle state; a fresh record is queued
func (r *Record) State() State {
	if r.state == "" {
		return StateQueued
	}
	return r.state
}

// Advance moves the record forward. Backwards or sideways moves are rejected.
func (r *Record) Advance(next State) error {
	current := r.State()
	for _, allowed := range transitions[current] {
		if allowed == next {
			r.state = next
			return nil
		}
	}
	return fmt.Errorf("record %s: invalid transition %s -> %s", r.Key(), current, next)
}

// Translated reports whether the record already carries a non-empty translation
func (r *Record) Translated() bool {
	return r.Translation != nil && strings.TrimSpace(r.Translation.Text) != ""
}

// Clone returns a deep copy that can be mutated independently
func (r *Record) Clone() *Record {
	c := *r
	if r.Translation != nil {
		t := *r.Translation
		c.Translation = &t
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		out[k] = v
	}

	if !r.ID.IsZero() && !r.implicitID {
		out["id"] = r.ID
	}
	if r.Field != "" {
		out["field"] = r.Field
	}
	if r.SourceLang != "" {
		out["source_lang"] = r.SourceLang
	}
	if r.TargetLang != "" {
		out["target_lang"] = r.TargetLang
	}
	out["text"] = r.Text
	if r.Translation != nil {
		out["translation"] = r.Translation
	}
	if r.Error != "" {
		out["error"] = r.Error
	}

	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		return nil
	}

	var rec Record
	for _, f := range []struct {
		key string
		dst any
	}{
		{"id", &rec.ID},
		{"field", &rec.Field},
		{"source_lang", &rec.SourceLang},
		{"target_lang", &rec.TargetLang},
		{"text", &rec.Text},
		{"translation", &rec.Translation},
		{"error", &rec.Error},
	} {
		if err := take(f.key, f.dst); err != nil {
			return err
		}
	}

	if len(fields) > 0 {
		rec.Extra = fields
	}
	*r = rec
	return nil
}
