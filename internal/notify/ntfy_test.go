package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts-topic", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer ts.Close()

	client := NewClient("alerts-topic", true, zerolog.Nop()).WithServer(ts.URL)
	err := client.Send(context.Background(), Notification{
		Title:    "Rebalance Needed",
		Message:  "Portfolio drift detected",
		Priority: PriorityHigh,
		Tags:     []string{"warning"},
	})
	require.NoError(t, err)

	assert.Equal(t, "alerts-topic", received["topic"])
	assert.Equal(t, "Rebalance Needed", received["title"])
	assert.Equal(t, float64(PriorityHigh), received["priority"])
}

func TestSend_DefaultPriority(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer ts.Close()

	client := NewClient("t", true, zerolog.Nop()).WithServer(ts.URL)
	require.NoError(t, client.Send(context.Background(), Notification{Title: "x", Message: "y"}))
	assert.Equal(t, float64(PriorityDefault), received["priority"])
}

func TestSend_DisabledIsNoOp(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	client := NewClient("t", false, zerolog.Nop()).WithServer(ts.URL)
	require.NoError(t, client.Send(context.Background(), Notification{Title: "x"}))
	assert.False(t, called)
}

func TestSend_EmptyTopicIsNoOp(t *testing.T) {
	client := NewClient("", true, zerolog.Nop())
	require.NoError(t, client.Send(context.Background(), Notification{Title: "x"}))
}

func TestSend_ServerErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient("t", true, zerolog.Nop()).WithServer(ts.URL)
	err := client.Send(context.Background(), Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
