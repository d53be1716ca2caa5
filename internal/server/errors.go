package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/stackdesk/stackdesk/internal/tasks"
)

// errorResponse is the uniform error envelope. Errors is either a list
// of messages or a field→messages map depending on the failure class.
type errorResponse struct {
	Errors any `json:"errors"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func respondMessages(w http.ResponseWriter, status int, messages ...string) {
	respondJSON(w, status, errorResponse{Errors: messages})
}

// respondServiceError maps orchestrator failures to HTTP statuses. Not
// found always uses the same fixed message so absent and expired
// resources are indistinguishable; guard violations get a specific
// message each; anything unexpected collapses to a generic 500.
func respondServiceError(w http.ResponseWriter, err error) {
	var fieldErrors tasks.FieldErrors
	if errors.As(err, &fieldErrors) {
		respondJSON(w, http.StatusBadRequest, errorResponse{Errors: map[string][]string(fieldErrors)})
		return
	}

	switch {
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, tasks.ErrTokenNotFound):
		respondMessages(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, tasks.ErrTaskCancelled):
		respondMessages(w, http.StatusBadRequest, "This task has been cancelled.")
	case errors.Is(err, tasks.ErrTaskCompleted):
		respondMessages(w, http.StatusBadRequest, "This task has already been completed.")
	case errors.Is(err, tasks.ErrTaskAlreadyApproved):
		respondMessages(w, http.StatusBadRequest, "This task has already been approved.")
	case errors.Is(err, tasks.ErrActionsInvalid):
		respondMessages(w, http.StatusBadRequest, "Task actions are invalid; see task notes.")
	default:
		respondMessages(w, http.StatusInternalServerError, "Something went wrong, will be investigated.")
	}
}
