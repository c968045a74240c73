package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	bserr "bitespeed/pkg/errors"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", bserr.New(bserr.CodeServerRequestInvalid, "Invalid JSON"), http.StatusBadRequest},
		{"invalid identify input", bserr.New(bserr.CodeIdentifyRequestInvalid, "missing"), http.StatusBadRequest},
		{"invalid config value", bserr.New(bserr.CodeConfigValidateInvalidValue, "bad"), http.StatusBadRequest},
		{"route not found", bserr.New(bserr.CodeServerRouteNotFound, "nope"), http.StatusNotFound},
		{"method not allowed", bserr.New(bserr.CodeServerMethodNotAllowed, "nope"), http.StatusMethodNotAllowed},
		{"rate limited", bserr.New(bserr.CodeServerRateExceeded, "slow down"), http.StatusTooManyRequests},
		{"store unavailable", bserr.New(bserr.CodeStoreDatabaseUnavailable, "down"), http.StatusServiceUnavailable},
		{"store failure", bserr.New(bserr.CodeStoreDatabaseFailure, "broken"), http.StatusInternalServerError},
		{"inconsistent cluster", bserr.New(bserr.CodeIdentifyClusterInconsistent, "broken"), http.StatusInternalServerError},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bserr.HTTPStatus(tt.err))
		})
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := bserr.Wrap(cause, bserr.CodeStoreDatabaseUnavailable, "query contacts",
		bserr.Field("table", "contacts"))
	wrapped := fmt.Errorf("find matching contacts: %w", err)

	assert.Equal(t, bserr.CodeStoreDatabaseUnavailable, bserr.CodeOf(wrapped))
	assert.True(t, bserr.IsUnavailable(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "contacts", bserr.FieldsOf(wrapped)["table"])
}

func TestNilAndPlainErrors(t *testing.T) {
	assert.NoError(t, bserr.Wrap(nil, bserr.CodeStoreDatabaseFailure, "x"))
	assert.NoError(t, bserr.Wrapf(nil, bserr.CodeStoreDatabaseFailure, "x %d", 1))
	assert.Equal(t, bserr.Code(""), bserr.CodeOf(nil))
	assert.Equal(t, bserr.Code(""), bserr.CodeOf(errors.New("plain")))
	assert.Nil(t, bserr.FieldsOf(errors.New("plain")))
	assert.False(t, bserr.HasCode(nil, bserr.CodeStoreDatabaseFailure))
	assert.False(t, bserr.IsNotFound(errors.New("plain")))
}
