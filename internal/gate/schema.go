// Package gate implements the quiz gate: the schema/key provider that loads
// the question bank from static artifacts, and the state machine that drives
// ordered-part progression, per-entry attempt limiting, scoring, and the
// terminal completion transition.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Key provider selection.
const (
	KeyModeFile     = "file"     // separate answer-key artifact
	KeyModeEmbedded = "embedded" // validation blocks inside the schema
)

// ChoiceIDs are the canonical four choice identifiers.
var ChoiceIDs = []string{"A", "B", "C", "D"}

// IsCanonicalChoice reports whether id is one of the four choice ids.
func IsCanonicalChoice(id string) bool {
	for _, c := range ChoiceIDs {
		if id == c {
			return true
		}
	}
	return false
}

var (
	// ErrSchemaNotFound means the question-bank artifact is missing. This is
	// a configuration error; the gate fails closed.
	ErrSchemaNotFound = errors.New("gate: schema artifact not found")
	// ErrSchemaParse means the question-bank artifact is not valid JSON.
	ErrSchemaParse = errors.New("gate: schema artifact failed to parse")
)

// Part identifies an ordered group of entries.
type Part struct {
	Label string `json:"label"`
	Roman string `json:"roman,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Option is one choice of a four-way multiple-choice entry.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AntiBruteforce holds the per-entry attempt-limiting parameters.
type AntiBruteforce struct {
	CooldownSeconds       int `json:"cooldown_seconds"`
	MaxAttemptsBeforeLock int `json:"max_attempts_before_lock"`
}

// Validation is the per-entry validation block. In embedded key mode it
// carries the answer key; in file mode usually only the anti-bruteforce
// parameters.
type Validation struct {
	Options         []Option        `json:"options,omitempty"`
	CorrectOptionID string          `json:"correct_option_id,omitempty"`
	AntiBruteforce  *AntiBruteforce `json:"anti_bruteforce,omitempty"`
}

// Entry is a single quiz question.
type Entry struct {
	ID         string      `json:"id"`
	Part       Part        `json:"part"`
	Prompt     string      `json:"prompt,omitempty"`
	Validation *Validation `json:"validation,omitempty"`
}

// Schema is the question-bank artifact.
type Schema struct {
	SchemaID   string  `json:"schema_id"`
	Version    string  `json:"version"`
	EntryCount int     `json:"entry_count"`
	Items      []Entry `json:"items"`
}

// Data is the fully derived view of the artifacts one request works with:
// ordered parts, indexes, and the key-readiness verdict.
type Data struct {
	Schema        *Schema
	Parts         []Part              // first-seen order; defines gate progression
	EntriesByPart map[string][]string // part label -> entry ids in schema order
	EntryIDs      []string
	Keys          KeyProvider
	KeyStatus     KeyStatus

	entries map[string]*Entry
}

// Entry returns the schema entry for id.
func (d *Data) Entry(id string) (*Entry, bool) {
	e, ok := d.entries[id]
	return e, ok
}

// PartOf returns the part label owning the entry.
func (d *Data) PartOf(entryID string) (string, bool) {
	e, ok := d.entries[entryID]
	if !ok {
		return "", false
	}
	return e.Part.Label, true
}

// Default attempt-limiting parameters for entries whose schema omits them.
const (
	defaultCooldownSeconds       = 60
	defaultMaxAttemptsBeforeLock = 5
)

// AntiBruteforce returns the attempt-limiting parameters for an entry,
// falling back to the defaults field by field.
func (d *Data) AntiBruteforce(entryID string) AntiBruteforce {
	anti := AntiBruteforce{
		CooldownSeconds:       defaultCooldownSeconds,
		MaxAttemptsBeforeLock: defaultMaxAttemptsBeforeLock,
	}
	e, ok := d.entries[entryID]
	if !ok || e.Validation == nil || e.Validation.AntiBruteforce == nil {
		return anti
	}
	if v := e.Validation.AntiBruteforce.CooldownSeconds; v > 0 {
		anti.CooldownSeconds = v
	}
	if v := e.Validation.AntiBruteforce.MaxAttemptsBeforeLock; v > 0 {
		anti.MaxAttemptsBeforeLock = v
	}
	return anti
}

// Provider loads the static artifacts and derives Data. Artifacts are read
// on every Load so an externally edited answer key takes effect without a
// restart; the files are small and the OS page cache does the rest.
type Provider struct {
	SchemaPath string
	KeyPath    string
	Mode       string
}

// Load reads the artifacts and builds the derived view. A missing or corrupt
// schema is an error (configuration problem, fail closed); a missing or
// corrupt key file only degrades the readiness verdict.
func (p *Provider) Load() (*Data, error) {
	raw, err := os.ReadFile(p.SchemaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, p.SchemaPath)
		}
		return nil, fmt.Errorf("read schema %s: %w", p.SchemaPath, err)
	}

	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}

	d := &Data{
		Schema:        &schema,
		EntriesByPart: map[string][]string{},
		entries:       map[string]*Entry{},
	}

	seen := map[string]bool{}
	for i := range schema.Items {
		e := &schema.Items[i]
		label := e.Part.Label
		if e.ID == "" || label == "" {
			continue
		}
		if !seen[label] {
			seen[label] = true
			d.Parts = append(d.Parts, e.Part)
		}
		d.EntriesByPart[label] = append(d.EntriesByPart[label], e.ID)
		d.EntryIDs = append(d.EntryIDs, e.ID)
		d.entries[e.ID] = e
	}

	switch p.Mode {
	case KeyModeEmbedded:
		d.Keys = newEmbeddedKeys(d)
	default:
		d.Keys = newFileKeys(readKeyFile(p.KeyPath), d.EntryIDs)
	}
	d.KeyStatus = d.Keys.Status()

	return d, nil
}

// RedactedSchema returns the schema payload safe to serve to the client:
// in embedded key mode the correct-option ids are stripped so the schema
// endpoint never reveals answers.
func (d *Data) RedactedSchema() *Schema {
	out := *d.Schema
	out.Items = make([]Entry, len(d.Schema.Items))
	for i, e := range d.Schema.Items {
		if e.Validation != nil && e.Validation.CorrectOptionID != "" {
			v := *e.Validation
			v.CorrectOptionID = ""
			e.Validation = &v
		}
		out.Items[i] = e
	}
	return &out
}

func nonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}
