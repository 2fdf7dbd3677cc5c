package errors_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	svcErr "github.com/oggyb/crewsnow/internal/errors"
)

func TestMap(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"unauthorized", svcErr.Unauthorized("missing token"), http.StatusUnauthorized, "missing token"},
		{"invalid", svcErr.InvalidRequest("bad action"), http.StatusBadRequest, "bad action"},
		{"forbidden", svcErr.Forbidden("not yours"), http.StatusForbidden, "not yours"},
		{"quota", svcErr.QuotaExceeded("limit reached"), http.StatusTooManyRequests, "limit reached"},
		{"not found", svcErr.NotFound("match not found"), http.StatusNotFound, "match not found"},
		{"upstream hides cause", svcErr.Upstream("ledger unavailable", errors.New("dial tcp 10.0.0.3:3306")), http.StatusInternalServerError, "ledger unavailable"},
		{"wrapped taxonomy", fmt.Errorf("ctx: %w", svcErr.Forbidden("blocked")), http.StatusForbidden, "blocked"},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound, "record not found"},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusInternalServerError, "request timed out"},
		{"unknown hides text", errors.New("secret dsn leaked"), http.StatusInternalServerError, "internal error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := svcErr.Map(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", svcErr.Upstream("store", context.DeadlineExceeded))

	assert.True(t, svcErr.Is(err, svcErr.KindUpstreamUnavailable))
	assert.False(t, svcErr.Is(err, svcErr.KindNotFound))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
