package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = errors.New("missing")

func TestErrorFromMapsWrappedSentinels(t *testing.T) {
	mapping := []ErrorStatus{{Err: errMissing, Status: http.StatusNotFound}}

	w := httptest.NewRecorder()
	ErrorFrom(w, fmt.Errorf("load thing: %w", errMissing), mapping)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "load thing: missing", body.Error)
}

func TestErrorFromHidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorFrom(w, errors.New("pq: relation does not exist"), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	var dst map[string]any
	assert.False(t, Decode(w, r, &dst))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
