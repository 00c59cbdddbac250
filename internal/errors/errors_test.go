package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsByCode(t *testing.T) {
	err := NotFound("author not found")

	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrStorageFailure))
	assert.True(t, Is(fmt.Errorf("resolve: %w", err), ErrNotFound))
}

func TestStorageKeepsCause(t *testing.T) {
	err := Storage(io.ErrUnexpectedEOF, "Saving book failed")

	assert.Equal(t, "Saving book failed: unexpected EOF", err.Error())
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.True(t, Is(err, ErrStorageFailure))
	assert.True(t, err.Code.Internal())
}

func TestInvalidCredentialsIsUniform(t *testing.T) {
	a := InvalidCredentials()
	b := InvalidCredentials()

	assert.Equal(t, a.Error(), b.Error())
	assert.Equal(t, "wrong credentials", a.Message)
	assert.NotSame(t, a, b)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"domain", Unauthenticated("not authenticated"), CodeUnauthenticated},
		{"wrapped", fmt.Errorf("x: %w", RateLimited("slow down")), CodeRateLimited},
		{"plain", io.EOF, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWithDetails(t *testing.T) {
	base := Validation("validation failed")
	detailed := base.WithDetails(map[string]string{"name": "is required"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]string{"name": "is required"}, detailed.Details)
	assert.Equal(t, CodeValidation, detailed.Code)
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	err := Wrap(io.ErrClosedPipe, CodeInternal, "Signing token failed")

	assert.Equal(t, "Signing token failed: io: read/write on closed pipe", err.Error())
	assert.True(t, Is(err, io.ErrClosedPipe))
	assert.True(t, Is(err, ErrInternal))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("login: %w", err)))
}
