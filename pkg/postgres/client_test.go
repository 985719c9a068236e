package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"wrapped serialization failure", fmt.Errorf("exec: %w", &pq.Error{Code: "40001"}), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"bad conn", driver.ErrBadConn, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"plain", errors.New("nope"), false},
		{"context", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := &pq.Error{Code: "23505"}
	err := classify(cause)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, classify(nil))
}
