package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/httputil"
)

func TestAssertDomainErrorMatchesWriteError(t *testing.T) {
	tests := []error{
		dErrors.New(dErrors.CodeRecordNotFound, "Census record not found"),
		dErrors.New(dErrors.CodeAlreadyVerified, "Already verified"),
		dErrors.New(dErrors.CodeTooManyRequests, "slow down"),
	}
	for _, err := range tests {
		de, _ := dErrors.From(err)
		t.Run(string(de.Code), func(t *testing.T) {
			rr := httptest.NewRecorder()
			httputil.WriteError(rr, err)
			AssertDomainError(t, rr, de.Code)
		})
	}

	t.Run("internal errors hide their description", func(t *testing.T) {
		rr := httptest.NewRecorder()
		httputil.WriteError(rr, errors.New("pq: connection refused"))
		AssertDomainError(t, rr, dErrors.CodeInternal)
		assert.NotContains(t, rr.Body.String(), "connection refused")
	})
}

func TestWithBearer(t *testing.T) {
	req := WithBearer(NewRequest(t, http.MethodGet, "/census/records"), "abc")
	assert.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
}
