package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerie/mission-core/mission"
)

func TestHubPollingHandshake(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/socket.io/?EIO=3&transport=polling")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sid")
}

func TestNotifyStatusWithoutClients(t *testing.T) {
	hub := NewHub(func(id string) (mission.Status, error) {
		return mission.Status{}, mission.ErrNotFound
	})
	hub.Start()
	defer hub.Close()

	assert.NotPanics(t, func() {
		hub.NotifyStatus(mission.New().Status())
	})
	assert.Zero(t, hub.Clients())
}
