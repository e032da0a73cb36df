package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pewstudio/accessgate/internal/gate"
	"github.com/pewstudio/accessgate/internal/model"
	"github.com/pewstudio/accessgate/internal/token"
)

// loadGateData reads the artifacts for this request, translating schema
// problems into fail-closed responses.
func (h *Handler) loadGateData(w http.ResponseWriter) (*gate.Data, bool) {
	d, err := h.provider.Load()
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrSchemaNotFound):
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SCHEMA_NOT_FOUND"})
		case errors.Is(err, gate.ErrSchemaParse):
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SCHEMA_PARSE_FAILED"})
		default:
			slog.Error("load gate artifacts", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SCHEMA_READ_FAILED"})
		}
		return nil, false
	}
	return d, true
}

// loadGateState reads the caller's progress snapshot. An absent, invalid, or
// foreign-session token is discarded for a fresh zero state.
func (h *Handler) loadGateState(codec *token.Codec, r *http.Request, sid string) *model.GateState {
	var st model.GateState
	if err := readSignedCookie(codec, r, stateCookieName, &st); err != nil || st.SID != sid {
		return model.NewGateState(sid)
	}
	st.Normalize()
	return &st
}

func (h *Handler) saveGateState(codec *token.Codec, w http.ResponseWriter, st *model.GateState) {
	if err := h.setSignedCookie(codec, w, stateCookieName, st); err != nil {
		slog.Error("sign gate-state cookie", "error", err)
	}
}

func (h *Handler) handleMeta(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadGateData(w)
	if !ok {
		return
	}

	entryCount := d.Schema.EntryCount
	if entryCount == 0 {
		entryCount = len(d.Schema.Items)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema_id":           d.Schema.SchemaID,
		"version":             d.Schema.Version,
		"entry_count":         entryCount,
		"part_count":          len(d.Parts),
		"parts":               d.Parts,
		"key_status":          d.KeyStatus.Status,
		"keys_present":        d.KeyStatus.KeysPresent,
		"keyed_entries_count": d.KeyStatus.KeyedEntries,
		"total_entries":       d.KeyStatus.TotalEntries,
	})
}

// schemaResponse is the canonical schema payload augmented with the
// key-readiness fields.
type schemaResponse struct {
	*gate.Schema
	gate.KeyStatus
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadGateData(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Schema:    d.RedactedSchema(),
		KeyStatus: d.KeyStatus,
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	codec, err := h.codec()
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "SECRET_MISSING"})
		return
	}
	d, ok := h.loadGateData(w)
	if !ok {
		return
	}

	sess := model.SessionFromContext(r.Context())
	st := h.loadGateState(codec, r, sess.SID)
	engine := gate.NewEngine(d, nil, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_gate_status":       st.Status,
		"access_gate_score":        st.Score,
		"access_gate_completed_at": st.CompletedAt,
		"progress":                 engine.Progress(st),
	})
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	codec, err := h.codec()
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "SECRET_MISSING"})
		return
	}

	var body struct {
		EntryID  string `json:"entry_id"`
		ChoiceID string `json:"choice_id"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_JSON"})
		return
	}

	d, ok := h.loadGateData(w)
	if !ok {
		return
	}

	sess := model.SessionFromContext(r.Context())
	st := h.loadGateState(codec, r, sess.SID)
	engine := gate.NewEngine(d, h.persist, nil)

	res := engine.Attempt(r.Context(), st, body.EntryID, body.ChoiceID)
	if res.Mutated {
		h.saveGateState(codec, w, st)
	}

	switch res.Verdict {
	case gate.VerdictKeysNotReady:
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":               "KEYS_NOT_READY",
			"key_status":          d.KeyStatus.Status,
			"keys_present":        d.KeyStatus.KeysPresent,
			"keyed_entries_count": d.KeyStatus.KeyedEntries,
		})
	case gate.VerdictEntryInvalid:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "ENTRY_INVALID"})
	case gate.VerdictChoiceInvalid:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "CHOICE_INVALID"})
	case gate.VerdictAlreadyComplete:
		writeJSON(w, http.StatusConflict, map[string]any{"error": "ALREADY_COMPLETE"})
	case gate.VerdictPartLocked:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             "PART_LOCKED",
			"active_part_label": nullableLabel(res.ActivePart),
		})
	case gate.VerdictCooldown:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "COOLDOWN",
			"retry_after_seconds": res.RetryAfterSeconds,
		})
	case gate.VerdictRateLimited:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "RATE_LIMIT",
			"retry_after_seconds": res.RetryAfterSeconds,
		})
	case gate.VerdictKeyInvalid:
		writeJSON(w, http.StatusLocked, map[string]any{"error": "KEY_INVALID"})
	case gate.VerdictIncorrect:
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":               "INCORRECT",
			"reset":               "PART",
			"active_part_label":   res.ActivePart,
			"retry_after_seconds": res.RetryAfterSeconds,
			"access_gate_score":   st.Score,
			"access_gate_status":  st.Status,
		})
	case gate.VerdictPersistFailed:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":              "PERSIST_FAILED",
			"active_part_label":  res.ActivePart,
			"access_gate_score":  st.Score,
			"access_gate_status": st.Status,
		})
	case gate.VerdictComplete:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":                       true,
			"access_gate_status":       st.Status,
			"access_gate_score":        st.Score,
			"access_gate_completed_at": st.CompletedAt,
		})
	case gate.VerdictCorrect:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":                 true,
			"correct":            true,
			"active_part_label":  res.ActivePart,
			"access_gate_score":  st.Score,
			"access_gate_status": st.Status,
		})
	default:
		slog.Error("unhandled attempt verdict", "verdict", res.Verdict)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "INTERNAL"})
	}
}

func nullableLabel(label string) any {
	if label == "" {
		return nil
	}
	return label
}
