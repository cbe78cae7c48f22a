package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("open upload: %w", ErrUnsupportedFormat), http.StatusBadRequest},
		{fmt.Errorf("limit: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("job 42: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("tracker: %w", ErrNotConfigured), http.StatusServiceUnavailable},
		{fmt.Errorf("lookup: %w", ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
		{New(http.StatusConflict, "busy", nil), http.StatusConflict},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, MapError(tt.err).Code, tt.err.Error())
	}
	assert.Nil(t, MapError(nil))
}
