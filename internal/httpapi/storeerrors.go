package httpapi

import (
	"errors"

	"github.com/sidecarhq/agentctl/internal/store"
)

func asStoreNotFound(err error) (*APIError, bool) {
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("job not found"), true
	}
	return nil, false
}

func asStoreValidation(err error) (*APIError, bool) {
	if errors.Is(err, store.ErrValidation) {
		return errValidation(err.Error()), true
	}
	return nil, false
}
