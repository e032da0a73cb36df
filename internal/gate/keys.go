package gate

import (
	"encoding/json"
	"os"
)

// Readiness verdicts. The file strategy distinguishes "no keys at all" from
// "some keys present but incomplete or invalid"; the embedded strategy is a
// binary verdict over the schema itself.
const (
	KeyStatusNotKeyed = "NOT_KEYED"
	KeyStatusPartial  = "PARTIAL"
	KeyStatusKeyed    = "KEYED"
	KeyStatusReady    = "READY"
	KeyStatusNotReady = "NOT_READY"
)

// KeyStatus is the derived key-readiness verdict over the artifacts.
type KeyStatus struct {
	Status       string `json:"key_status"`
	KeysPresent  bool   `json:"keys_present"`
	KeyedEntries int    `json:"keyed_entries_count"`
	TotalEntries int    `json:"total_entries"`
}

// Ready reports whether the gate may accept attempts at all.
func (ks KeyStatus) Ready() bool {
	return ks.Status == KeyStatusKeyed || ks.Status == KeyStatusReady
}

// KeyProvider derives per-entry correctness predicates and the readiness
// verdict. It contains no state-machine logic.
type KeyProvider interface {
	Status() KeyStatus
	// CorrectChoice returns the correct choice id for an entry, or false if
	// the entry has no structurally valid key.
	CorrectChoice(entryID string) (string, bool)
}

// --- file strategy: separate externally-editable answer-key artifact ---

type keyFile struct {
	Keys map[string]keyEntry `json:"keys"`
}

type keyEntry struct {
	CorrectChoiceID string            `json:"correct_choice_id"`
	Choices         map[string]string `json:"choices"`
}

func (k keyEntry) valid() bool {
	if !IsCanonicalChoice(k.CorrectChoiceID) {
		return false
	}
	if k.Choices == nil {
		return false
	}
	for _, id := range ChoiceIDs {
		if !nonEmpty(k.Choices[id]) {
			return false
		}
	}
	return true
}

// readKeyFile loads the answer-key artifact. Missing or malformed files
// resolve to nil, which the provider reports as NOT_KEYED.
func readKeyFile(path string) *keyFile {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil
	}
	return &kf
}

type fileKeys struct {
	keys   map[string]keyEntry
	status KeyStatus
}

func newFileKeys(kf *keyFile, entryIDs []string) *fileKeys {
	known := map[string]bool{}
	for _, id := range entryIDs {
		known[id] = true
	}

	keys := map[string]keyEntry{}
	if kf != nil && kf.Keys != nil {
		keys = kf.Keys
	}

	keyedCount := 0
	invalid := false
	for id, entry := range keys {
		if !known[id] {
			invalid = true
			continue
		}
		if entry.valid() {
			keyedCount++
		} else {
			invalid = true
		}
	}

	total := len(entryIDs)
	status := KeyStatusNotKeyed
	if len(keys) > 0 {
		if keyedCount == total && !invalid && len(keys) == total {
			status = KeyStatusKeyed
		} else {
			status = KeyStatusPartial
		}
	}

	return &fileKeys{
		keys: keys,
		status: KeyStatus{
			Status:       status,
			KeysPresent:  len(keys) > 0,
			KeyedEntries: keyedCount,
			TotalEntries: total,
		},
	}
}

func (f *fileKeys) Status() KeyStatus { return f.status }

func (f *fileKeys) CorrectChoice(entryID string) (string, bool) {
	entry, ok := f.keys[entryID]
	if !ok || !entry.valid() {
		return "", false
	}
	return entry.CorrectChoiceID, true
}

// --- embedded strategy: validation block inside each schema entry ---

type embeddedKeys struct {
	correct map[string]string
	status  KeyStatus
}

func validEmbedded(v *Validation) bool {
	if v == nil {
		return false
	}
	if len(v.Options) != len(ChoiceIDs) {
		return false
	}
	seen := map[string]bool{}
	correctFound := false
	for _, opt := range v.Options {
		if !IsCanonicalChoice(opt.ID) || seen[opt.ID] || !nonEmpty(opt.Text) {
			return false
		}
		seen[opt.ID] = true
		if opt.ID == v.CorrectOptionID {
			correctFound = true
		}
	}
	return correctFound
}

func newEmbeddedKeys(d *Data) *embeddedKeys {
	correct := map[string]string{}
	for _, id := range d.EntryIDs {
		e := d.entries[id]
		if validEmbedded(e.Validation) {
			correct[id] = e.Validation.CorrectOptionID
		}
	}

	total := len(d.EntryIDs)
	status := KeyStatusNotReady
	if total > 0 && len(correct) == total {
		status = KeyStatusReady
	}

	return &embeddedKeys{
		correct: correct,
		status: KeyStatus{
			Status:       status,
			KeysPresent:  len(correct) > 0,
			KeyedEntries: len(correct),
			TotalEntries: total,
		},
	}
}

func (e *embeddedKeys) Status() KeyStatus { return e.status }

func (e *embeddedKeys) CorrectChoice(entryID string) (string, bool) {
	id, ok := e.correct[entryID]
	return id, ok
}
