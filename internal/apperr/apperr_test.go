package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", Wrap(CodePersistFailed, "save match", errors.New("timeout")))

	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.NotErrorIs(t, err, ErrDeleteFailed)
	assert.Equal(t, CodePersistFailed, CodeOf(err))
	assert.Equal(t, "save match: timeout", errors.Unwrap(err).Error())

	var ae *Error
	assert.True(t, errors.As(err, &ae))
	assert.True(t, ae.Retryable())
	assert.False(t, ErrNotMember.Retryable())
}

func TestCodeOfUncoded(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeExpiredToken:    http.StatusUnauthorized,
		CodeMalformedToken:  http.StatusUnauthorized,
		CodeNotController:   http.StatusForbidden,
		CodeNotMember:       http.StatusForbidden,
		CodeSessionNotFound: http.StatusNotFound,
		CodeSessionEnded:    http.StatusGone,
		CodePersistFailed:   http.StatusServiceUnavailable,
		CodeDeleteFailed:    http.StatusServiceUnavailable,
		CodeMissingField:    http.StatusBadRequest,
		CodeInvalidMutation: http.StatusBadRequest,
		Code("whatever"):    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), code)
	}
}

func TestMissingField(t *testing.T) {
	err := MissingField("username")
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, "username is required", err.Error())
}
