package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	inner := New(CodeCollisionExhausted, "no free index number")
	outer := Wrap(inner, CodeInternal, "allocation failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeCollisionExhausted), "inner code reachable through wrap")
	assert.False(t, HasCode(outer, CodeConflict))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestIs_OnlyOutermost(t *testing.T) {
	inner := New(CodeConflict, "invoice changed")
	outer := fmt.Errorf("confirm: %w", Wrap(inner, CodeValidation, "rejected"))

	assert.True(t, Is(outer, CodeValidation))
	assert.False(t, Is(outer, CodeConflict))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "x")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:         http.StatusUnprocessableEntity,
		CodeCollisionExhausted: http.StatusServiceUnavailable,
		CodeConflict:           http.StatusConflict,
		CodeRenderingFailed:    http.StatusBadGateway,
		CodeNotFound:           http.StatusNotFound,
		CodeBadRequest:         http.StatusBadRequest,
		Code("unknown"):        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
