package apperr

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWrapNewf(t *testing.T) {
	err := New(NotFound, "missing")
	assert.Equal(t, "NotFound: missing", err.Error())

	cause := errors.New("boom")
	wrapped := Wrap(IOFailed, "read failed", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "boom")

	f := Newf(BadRequest, "bad field %q", "id")
	assert.Equal(t, `BadRequest: bad field "id"`, f.Error())
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, NotFound, KindOf(New(NotFound, "x")))
}

func TestIsRetriableReflectsFlag(t *testing.T) {
	err := New(UpstreamHTTP, "x").WithRetriable(true)
	assert.True(t, IsRetriable(err))
	assert.False(t, IsRetriable(New(UpstreamHTTP, "x")))
	assert.False(t, IsRetriable(errors.New("plain")))
}

func TestFromUpstreamErrorClassifiesContextDeadline(t *testing.T) {
	err := FromUpstreamError(context.DeadlineExceeded)
	assert.Equal(t, UpstreamTimeout, err.Kind)
	assert.True(t, err.Retriable)
}

func TestFromUpstreamErrorNilIsNil(t *testing.T) {
	assert.Nil(t, FromUpstreamError(nil))
}

func TestIsRetriableStatusClassification(t *testing.T) {
	assert.True(t, IsRetriableStatus(http.StatusTooManyRequests))
	assert.True(t, IsRetriableStatus(http.StatusBadGateway))
	assert.False(t, IsRetriableStatus(http.StatusOK))
	assert.False(t, IsRetriableStatus(http.StatusNotFound))
}

func TestFromUpstreamStatusSetsRetriable(t *testing.T) {
	err := FromUpstreamStatus(503)
	assert.Equal(t, UpstreamHTTP, err.Kind)
	assert.Equal(t, 503, err.Status)
	assert.True(t, err.Retriable)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		ConfigInvalid:        http.StatusInternalServerError,
		UpstreamTimeout:      http.StatusBadGateway,
		ProviderLimitReached: http.StatusServiceUnavailable,
		UserExpired:          http.StatusForbidden,
		RateLimited:          http.StatusTooManyRequests,
		BadRequest:           http.StatusBadRequest,
		NotFound:             http.StatusNotFound,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind.String())
	}
}

func TestAsIgnoresStringFlattenedError(t *testing.T) {
	inner := New(TokenExpired, "expired")
	outer := errors.New("context: " + inner.Error())
	_, ok := As(outer)
	assert.False(t, ok)

	_, ok = As(inner)
	assert.True(t, ok)
}
