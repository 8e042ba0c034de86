package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/notify"
)

func TestSlackNotifyPostsFormattedMessage(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := notify.NewSlack(srv.URL)
	err := sink.Notify(context.Background(), notify.Event{ChainID: "1", Severity: "error", Message: "watchdog timeout"})
	require.NoError(t, err)
	require.Contains(t, received["text"], "chain=1")
	require.Contains(t, received["text"], "watchdog timeout")
}

func TestSlackNotifyReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := notify.NewSlack(srv.URL)
	err := sink.Notify(context.Background(), notify.Event{ChainID: "1", Message: "boom"})
	require.Error(t, err)
}

func TestNoopNeverErrors(t *testing.T) {
	require.NoError(t, notify.Noop{}.Notify(context.Background(), notify.Event{}))
}

func TestShouldNotifyRespectsCooldown(t *testing.T) {
	now := time.Now()
	require.True(t, notify.ShouldNotify(nil, now))

	recent := now.Add(-time.Minute)
	require.False(t, notify.ShouldNotify(&recent, now))

	old := now.Add(-notify.Cooldown - time.Second)
	require.True(t, notify.ShouldNotify(&old, now))
}
