package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrUserNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", ErrPlanNotFound), http.StatusNotFound},
		{ErrAlreadyRefunded, http.StatusConflict},
		{ErrEmailTaken, http.StatusConflict},
		{ErrPaymentNotSucceeded, http.StatusBadRequest},
		{ErrInvalidSignature, http.StatusBadRequest},
		{Provider("create customer", errors.New("boom")), http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}

func TestProviderKeepsCause(t *testing.T) {
	err := Provider("get subscription", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, Provider("noop", nil))
}

func TestMessageHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "internal server error", Message(errors.New("pq: password leaked")))
	assert.Equal(t, ErrAlreadyRefunded.Error(), Message(ErrAlreadyRefunded))
}
