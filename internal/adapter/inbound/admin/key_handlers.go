package admin

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaygate/relaygate/internal/domain/auth"
)

// keyResponse is the JSON representation of a key without its secret. The
// prefix identifies the key externally but cannot reconstruct it.
type keyResponse struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Active     bool       `json:"active"`
}

func toKeyResponse(k auth.APIKey) keyResponse {
	return keyResponse{
		ID:         k.ID,
		Prefix:     auth.Prefix(k.ID),
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		Active:     k.Active,
	}
}

// handleListKeys returns key metadata, never secrets.
// GET /auth/keys
func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyResponse(k))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// createKeyRequest is the JSON body for key creation.
type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse carries the cleartext key. It is returned exactly
// once and never stored or logged.
type createKeyResponse struct {
	keyResponse
	Key string `json:"key"`
}

// handleCreateKey mints a new key.
// POST /auth/keys
func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	cleartext, key, err := auth.GenerateKey(req.Name, h.clock.Now())
	if err != nil {
		h.logger.Error("failed to generate key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.keys.Insert(r.Context(), key); err != nil {
		// Credential store write errors surface to the caller.
		h.logger.Error("failed to store key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.recorder.Record(r, "key_create", fmt.Sprintf(`{"key_id":%q,"name":%q}`, key.ID, key.Name))
	h.respondJSON(w, http.StatusCreated, createKeyResponse{
		keyResponse: toKeyResponse(key),
		Key:         cleartext,
	})
}

// handleRevokeKey deactivates a key without removing its row.
// POST /auth/keys/{id}/revoke
func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.keys.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			h.respondError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("failed to revoke key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.recorder.Record(r, "key_revoke", fmt.Sprintf(`{"key_id":%q}`, id))
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleDeleteKey removes a key row.
// DELETE /auth/keys/{id}
func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.keys.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			h.respondError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("failed to delete key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.recorder.Record(r, "key_delete", fmt.Sprintf(`{"key_id":%q}`, id))
	w.WriteHeader(http.StatusNoContent)
}
