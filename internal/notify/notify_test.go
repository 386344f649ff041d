package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(kind Kind) Message {
	return Message{
		Kind:            kind,
		To:              "aisha@example.com",
		EmployeeName:    "Aisha Khan",
		VerificationURL: "https://hr.example.com/verify-census/secret-token",
		ExpiresAt:       time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		ReminderNumber:  2,
		TokenID:         7,
		RecordID:        42,
	}
}

func TestRender(t *testing.T) {
	r, err := Render(testMessage(KindVerification))
	require.NoError(t, err)
	assert.Equal(t, "Action Required: Verify Your Insurance Details", r.Subject)
	assert.Contains(t, r.Body, "Dear Aisha Khan")
	assert.Contains(t, r.Body, "https://hr.example.com/verify-census/secret-token")
	assert.Contains(t, r.Body, "2026-06-01")

	r, err = Render(testMessage(KindReminder))
	require.NoError(t, err)
	assert.Contains(t, r.Subject, "Reminder")
	assert.Contains(t, r.Body, "reminder 2")
}

func TestLogNotifierNeverLogsURL(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, n.Notify(context.Background(), testMessage(KindVerification)))
	assert.NotContains(t, buf.String(), "secret-token")
	assert.NotContains(t, buf.String(), "aisha@example.com")
	assert.Contains(t, buf.String(), `"token_id":"7"`)
}

func TestWebhookNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("posts rendered payload", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		n := NewWebhookNotifier(srv.URL, time.Second, logger)
		require.NoError(t, n.Notify(context.Background(), testMessage(KindVerification)))
		assert.Equal(t, "aisha@example.com", got["to"])
		assert.Equal(t, "verification", got["kind"])
		assert.Equal(t, "42", got["record_id"])
	})

	t.Run("retries server errors then fails", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		n := NewWebhookNotifier(srv.URL, time.Second, logger)
		err := n.Notify(context.Background(), testMessage(KindReminder))
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		err := NewWebhookNotifier(srv.URL, time.Second, logger).Notify(context.Background(), testMessage(KindVerification))
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}
