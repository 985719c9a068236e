package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"wrapped invalid input", fmt.Errorf("parsing limit: %w", ErrInvalidInput), http.StatusBadRequest},
		{"rejected event", Newf(ErrRejectedEvent, http.StatusBadRequest, "row %d", 3), http.StatusBadRequest},
		{"bare rejected event", ErrRejectedEvent, http.StatusBadRequest},
		{"not found", ErrRecordNotFound, http.StatusNotFound},
		{"unavailable", fmt.Errorf("postgres: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("applying event: %w", Newf(ErrRejectedEvent, http.StatusBadRequest, "missing %s", "id"))
	assert.ErrorIs(t, err, ErrRejectedEvent)
	assert.Equal(t, "applying event: change event rejected: missing id", err.Error())
}
