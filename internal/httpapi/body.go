package httpapi

import (
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20 // 1 MiB, §4.2

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errValidation("failed to read request body")
	}
	if len(data) > maxBodyBytes {
		return nil, errValidation("request body exceeds 1 MiB limit")
	}
	return data, nil
}

func storeErr(err error) *APIError {
	switch {
	case err == nil:
		return nil
	default:
		if apiErr, ok := asStoreNotFound(err); ok {
			return apiErr
		}
		if apiErr, ok := asStoreValidation(err); ok {
			return apiErr
		}
		return errInternal(err.Error())
	}
}
