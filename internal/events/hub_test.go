package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/model"
)

func TestHub_BroadcastsCommittedInvocations(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.InvocationAborted(agent.CmdDeposit, agent.ErrInvalidDenom, 0)
	hub.InvocationCommitted(&agent.Result{
		ID:         "inv-1",
		Command:    agent.CmdSettle,
		Sender:     "keeper",
		Attributes: map[string]string{"result": "win"},
		Events:     []model.Event{{Type: "bid_result", Attributes: map[string]string{"winning_bidder": "keeper"}}},
	}, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "invocation", msg.Type)
	assert.Equal(t, agent.CmdSettle, msg.Command, "aborted invocations are not broadcast")
	assert.Equal(t, "win", msg.Attributes["result"])
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "keeper", msg.Events[0].Attributes["winning_bidder"])
}

func TestHub_StopDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go hub.Run(done)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	close(done)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "connection closed by hub")
	assert.Equal(t, 0, hub.Clients())
}
