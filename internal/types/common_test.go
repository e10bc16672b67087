package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{ErrInternalError, http.StatusInternalServerError},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatusCode())
		})
	}
}

func TestFailAndPage(t *testing.T) {
	resp := Fail(ErrNotFound, "snapshot not found", "", "req-1")
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND: snapshot not found", resp.Error.Error())
	assert.Equal(t, "req-1", resp.Metadata.RequestID)

	withDetails := Fail(ErrInternalError, "journal failed", errors.New("disk full").Error(), "")
	assert.Equal(t, "INTERNAL_ERROR: journal failed (disk full)", withDetails.Error.Error())

	page := NewPage[int](nil, 10, 0, "")
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.True(t, page.Success)
}
