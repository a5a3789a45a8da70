package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/notify"
	"github.com/judgeflow/backend/internal/testutil"
)

func newTestClient(h *Hub, userID string) *Client {
	c := &Client{hub: h, userID: userID, send: make(chan []byte, 4)}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) ClientMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg ClientMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return ClientMessage{}
	}
}

func TestHub_DeliversOnlyToAddressedUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	go h.Run(ctx)

	alice1 := newTestClient(h, "alice")
	alice2 := newTestClient(h, "alice")
	bob := newTestClient(h, "bob")
	require.Eventually(t, func() bool { return h.GetClientCount() == 3 }, time.Second, 10*time.Millisecond)

	payload := notify.JudgedPayload{SubmissionID: "s1", Status: models.StatusAccepted, Points: 65}
	require.NoError(t, h.EmitToUser(ctx, "alice", notify.EventSubmissionJudged, payload))

	for _, c := range []*Client{alice1, alice2} {
		msg := receive(t, c)
		assert.Equal(t, notify.EventSubmissionJudged, msg.Event)
		assert.JSONEq(t, `{"submissionId":"s1","status":"Accepted","points":65}`, string(msg.Payload))
	}
	assert.Len(t, bob.send, 0)
}

func TestHub_OfflineUserMissesEvent(t *testing.T) {
	h := NewHub(nil)
	delivered := h.Deliver(notify.Event{UserID: "nobody", Name: "x", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, 0, delivered)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	go h.Run(ctx)

	c := newTestClient(h, "alice")
	h.unregister <- c
	require.Eventually(t, func() bool { return h.GetClientCount() == 0 }, time.Second, 10*time.Millisecond)

	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_RelaysPublishedEvents(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(client)
	go h.Run(ctx)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(notify.Channel)[notify.Channel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	alice := newTestClient(h, "alice")

	publisher := NewRedisPublisher(client)
	payload := notify.JudgedPayload{SubmissionID: "s9", Status: models.StatusRejected, Points: 0}
	require.NoError(t, publisher.EmitToUser(ctx, "alice", notify.EventSubmissionJudged, payload))

	msg := receive(t, alice)
	assert.Equal(t, notify.EventSubmissionJudged, msg.Event)
	assert.JSONEq(t, `{"submissionId":"s9","status":"Rejected","points":0}`, string(msg.Payload))
}

func TestHub_StoppedHubDoesNotBlockClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	c := &Client{hub: h, userID: "alice", send: make(chan []byte, 1)}
	result := make(chan bool, 1)
	go func() {
		added := h.addClient(c)
		h.dropClient(c)
		result <- added
	}()

	select {
	case added := <-result:
		assert.False(t, added)
	case <-time.After(time.Second):
		t.Fatal("client registration blocked after the hub stopped")
	}
}
