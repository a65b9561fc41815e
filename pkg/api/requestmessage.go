package api

import (
	"context"
	"net/http"
	"time"
)

// storeTimeout bounds the storage work done for a single request.
const storeTimeout = 5 * time.Second

// emptyObject renders as {}.
var emptyObject = struct{}{}

// handleCreate records a new request message
func (api *AdminAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		api.respondError(w, r, opCreate, err, emptyObject)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	msg, err := api.messages.Create(ctx, payload)
	if err != nil {
		api.respondError(w, r, opCreate, err, emptyObject)
		return
	}

	api.logger.Debug("request message created", "id", msg.ID)
	observe(opCreate, outcomeOK)
	respondJSON(w, http.StatusCreated, msg)
}

// handleGet returns a request message, or {} with 404 when unknown
func (api *AdminAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	msg, err := api.messages.Get(ctx, r.PathValue("id"))
	if err != nil {
		api.respondError(w, r, opGet, err, emptyObject)
		return
	}

	observe(opGet, outcomeOK)
	respondJSON(w, http.StatusOK, msg)
}

// handleReplace overwrites a request message. Unknown ids answer 404 with a
// null body.
func (api *AdminAPI) handleReplace(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		api.respondError(w, r, opReplace, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	msg, err := api.messages.Replace(ctx, r.PathValue("id"), payload)
	if err != nil {
		api.respondError(w, r, opReplace, err, nil)
		return
	}

	observe(opReplace, outcomeOK)
	respondJSON(w, http.StatusOK, msg)
}

// handlePatch merges the supplied fields into a request message
func (api *AdminAPI) handlePatch(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		api.respondError(w, r, opPatch, err, emptyObject)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	msg, changed, err := api.messages.Patch(ctx, r.PathValue("id"), payload)
	if err != nil {
		api.respondError(w, r, opPatch, err, emptyObject)
		return
	}
	if !changed {
		observe(opPatch, outcomeNoChange)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	observe(opPatch, outcomeOK)
	respondJSON(w, http.StatusOK, msg)
}

// handleDelete removes a request message. It succeeds whether or not the id
// existed.
func (api *AdminAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if err := api.messages.Delete(ctx, r.PathValue("id")); err != nil {
		api.respondError(w, r, opDelete, err, emptyObject)
		return
	}

	observe(opDelete, outcomeOK)
	respondJSON(w, http.StatusOK, emptyObject)
}
