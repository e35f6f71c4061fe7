package app

import (
	"errors"
	"fmt"
	"net/http"

	"toolshed/api/internal/engine"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fromEngineError translates the engine's typed errors into transport-level
// domain errors. Stale heads and duplicate suggestions are conflicts the
// caller resolves by re-reading and retrying.
func fromEngineError(err error) error {
	var validation *engine.ValidationError
	if errors.As(err, &validation) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", validation.Error(), map[string]any{"field": validation.Field})
	}
	var staleHead *engine.StaleHeadError
	if errors.As(err, &staleHead) {
		return domainError(http.StatusConflict, "STALE_HEAD", staleHead.Error(), nil)
	}
	var staleTarget *engine.StaleMergeTargetError
	if errors.As(err, &staleTarget) {
		return domainError(http.StatusConflict, "STALE_MERGE_TARGET", staleTarget.Error(), nil)
	}
	var duplicate *engine.DuplicateSuggestionError
	if errors.As(err, &duplicate) {
		return domainError(http.StatusConflict, "DUPLICATE_SUGGESTION", duplicate.Error(), nil)
	}
	if errors.Is(err, engine.ErrVersionNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	return err
}
