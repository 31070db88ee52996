package httputil

import (
	"errors"
	"net/http"
)

// ErrorStatus maps a sentinel error to the status code it is reported with.
type ErrorStatus struct {
	Err    error
	Status int
}

// StatusFor returns the status of the first mapping whose error matches
// err by errors.Is, or 500.
func StatusFor(err error, mapping []ErrorStatus) int {
	for _, m := range mapping {
		if errors.Is(err, m.Err) {
			return m.Status
		}
	}
	return http.StatusInternalServerError
}

// ErrorFrom writes err with the status chosen by StatusFor. Client errors
// carry err's message; server errors are logged and reported generically.
func ErrorFrom(w http.ResponseWriter, err error, mapping []ErrorStatus) {
	status := StatusFor(err, mapping)
	if status >= http.StatusInternalServerError {
		InternalError(w, err)
		return
	}
	Error(w, status, err.Error())
}
