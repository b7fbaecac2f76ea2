package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/gorilla/websocket"
	"github.com/zeebo/assert"
)

// fakeNode is a minimal substrate node speaking JSON-RPC over websocket
type fakeNode struct {
	t          *testing.T
	server     *httptest.Server
	upgrader   websocket.Upgrader
	subscribes atomic.Int32
	// dropAfterNotify closes the first connection right after the first storage notification
	dropAfterNotify bool
	dropped         atomic.Bool
	statuses        []string
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{t: t}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req chain.RPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Method {
		case "chain_getBlockHash":
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0xabc"})
		case "system_fail":
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "Method not found"}})
		case "state_subscribeStorage":
			count := n.subscribes.Add(1)
			subID := fmt.Sprintf("sub-%d", count)
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID})
			_ = conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "state_storage",
				"params": map[string]any{
					"subscription": subID,
					"result": map[string]any{
						"block":   "0x01",
						"changes": [][]any{{"0xaa", fmt.Sprintf("0x0%d", count)}, {"0xbb", nil}},
					},
				},
			})
			if n.dropAfterNotify && !n.dropped.Swap(true) {
				return
			}
		case "state_unsubscribeStorage", "author_unwatchExtrinsic":
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
		case "author_submitAndWatchExtrinsic":
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7})
			for _, status := range n.statuses {
				_ = conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0",
					"method":  "author_extrinsicUpdate",
					"params":  map[string]any{"subscription": 7, "result": json.RawMessage(status)},
				})
			}
		}
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	updates []chain.StorageChangeSet
	resets  int
	updated chan struct{}
	reset   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{updated: make(chan struct{}, 10), reset: make(chan struct{}, 10)}
}

func (h *recordingHandler) OnUpdate(changes chain.StorageChangeSet) {
	h.mu.Lock()
	h.updates = append(h.updates, changes)
	h.mu.Unlock()
	h.updated <- struct{}{}
}

func (h *recordingHandler) OnReset(error) {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
	h.reset <- struct{}{}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func testWSConfig() chain.WSConfig {
	config := chain.DefaultWSConfig()
	config.RequestTimeout = 2 * time.Second
	config.ReconnectInitial = 10 * time.Millisecond
	config.ReconnectMaxElapsed = 5 * time.Second
	return config
}

func TestWSClient_Call(t *testing.T) {
	node := newFakeNode(t)
	client, err := chain.NewWSClient(context.Background(), []string{node.url()}, testWSConfig())
	assert.NoError(t, err)
	defer client.Close()

	var hash string
	assert.NoError(t, client.Call(context.Background(), "chain_getBlockHash", nil, &hash))
	assert.Equal(t, hash, "0xabc")

	err = client.Call(context.Background(), "system_fail", nil, nil)
	var rpcErr *chain.RPCError
	assert.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpcErr.Code, -32601)
}

func TestWSClient_FailsOverToReachableEndpoint(t *testing.T) {
	node := newFakeNode(t)
	client, err := chain.NewWSClient(context.Background(), []string{"ws://127.0.0.1:1", node.url()}, testWSConfig())
	assert.NoError(t, err)
	defer client.Close()
	assert.True(t, client.IsConnected())
}

func TestWSClient_NoEndpointReachable(t *testing.T) {
	_, err := chain.NewWSClient(context.Background(), []string{"ws://127.0.0.1:1"}, testWSConfig())
	assert.True(t, errors.Is(err, models.ErrConnectionUnavailable))
}

func TestWSClient_SubscribeStorage(t *testing.T) {
	node := newFakeNode(t)
	client, err := chain.NewWSClient(context.Background(), []string{node.url()}, testWSConfig())
	assert.NoError(t, err)
	defer client.Close()

	handler := newRecordingHandler()
	sub, err := client.SubscribeStorage(context.Background(), []storage.Key{{0xaa}, {0xbb}}, handler)
	assert.NoError(t, err)
	waitFor(t, handler.updated, "first storage notification")

	handler.mu.Lock()
	changes := handler.updates[0].Changes
	handler.mu.Unlock()
	assert.Equal(t, len(changes), 2)
	assert.Equal(t, changes[0].Key.Hex(), "0xaa")
	assert.Equal(t, changes[0].Value, []byte{0x01})
	// null value is a defined but empty entry
	assert.Equal(t, changes[1].Key.Hex(), "0xbb")
	assert.True(t, changes[1].Value == nil)

	assert.NoError(t, sub.Unsubscribe(context.Background()))
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	node := newFakeNode(t)
	node.dropAfterNotify = true
	client, err := chain.NewWSClient(context.Background(), []string{node.url()}, testWSConfig())
	assert.NoError(t, err)
	defer client.Close()

	handler := newRecordingHandler()
	_, err = client.SubscribeStorage(context.Background(), []storage.Key{{0xaa}}, handler)
	assert.NoError(t, err)

	waitFor(t, handler.updated, "first storage notification")
	waitFor(t, handler.reset, "reset after connection drop")
	waitFor(t, handler.updated, "notification after resubscribe")

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, handler.resets, 1)
	assert.Equal(t, handler.updates[1].Changes[0].Value, []byte{0x02})
	assert.Equal(t, node.subscribes.Load(), int32(2))
}

func TestWSClient_SubmitAndWatch(t *testing.T) {
	node := newFakeNode(t)
	node.statuses = []string{`"ready"`, `{"broadcast":["peer"]}`, `{"inBlock":"0xb10c"}`}
	client, err := chain.NewWSClient(context.Background(), []string{node.url()}, testWSConfig())
	assert.NoError(t, err)
	defer client.Close()

	statuses := make(chan chain.ExtrinsicStatus, 3)
	sub, err := client.SubmitAndWatch(context.Background(), []byte{0x01, 0x02},
		func(status chain.ExtrinsicStatus) { statuses <- status },
		func(err error) { t.Errorf("unexpected watch error: %v", err) })
	assert.NoError(t, err)

	var got []chain.ExtrinsicStatus
	for len(got) < 3 {
		select {
		case s := <-statuses:
			got = append(got, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for statuses, got %v", got)
		}
	}
	assert.Equal(t, got[0].Kind, chain.StatusReady)
	assert.Equal(t, got[1].Kind, chain.StatusBroadcast)
	assert.Equal(t, got[2], chain.ExtrinsicStatus{Kind: chain.StatusInBlock, BlockHash: "0xb10c"})
	assert.NoError(t, sub.Unsubscribe(context.Background()))
}

func TestExtrinsicStatus_IsFailure(t *testing.T) {
	testCases := []struct {
		raw     string
		failure bool
	}{
		{`"ready"`, false},
		{`{"inBlock":"0x01"}`, false},
		{`{"finalized":"0x01"}`, false},
		{`"invalid"`, true},
		{`"dropped"`, true},
		{`{"usurped":"0x02"}`, true},
		{`{"finalityTimeout":"0x03"}`, true},
	}
	for _, tc := range testCases {
		var status chain.ExtrinsicStatus
		assert.NoError(t, json.Unmarshal([]byte(tc.raw), &status))
		assert.Equal(t, status.IsFailure(), tc.failure)
	}
}
