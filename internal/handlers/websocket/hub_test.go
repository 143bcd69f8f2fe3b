package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed bool
	onSend func()
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	if c.onSend != nil {
		c.onSend()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.got = append(c.got, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.got))
	for _, raw := range c.got {
		var m Message
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

func TestHubBroadcastReachesEveryConnection(t *testing.T) {
	hub := NewHub(nil, nil)
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i)}
		hub.Register(conns[i])
	}

	n := hub.Broadcast(KindBinStatus, json.RawMessage(`{"levels":{"dry":81}}`))
	assert.Equal(t, 5, n)

	for _, c := range conns {
		msgs := c.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, KindBinStatus, msgs[0].Type)
		raw, _ := json.Marshal(msgs[0].Data)
		assert.JSONEq(t, `{"levels":{"dry":81}}`, string(raw))
	}
}

func TestHubIsolatesFailedConnection(t *testing.T) {
	hub := NewHub(nil, nil)
	good1 := &fakeConn{id: "good1"}
	bad := &fakeConn{id: "bad", fail: true}
	good2 := &fakeConn{id: "good2"}
	hub.Register(good1)
	hub.Register(bad)
	hub.Register(good2)

	assert.Equal(t, 2, hub.Broadcast(KindAlert, map[string]string{"title": "x"}))
	assert.Equal(t, 2, hub.Count())
	assert.True(t, bad.closed)

	assert.Equal(t, 2, hub.Broadcast(KindAlert, map[string]string{"title": "y"}))
	assert.Len(t, good1.messages(), 2)
	assert.Len(t, good2.messages(), 2)
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(nil, nil)
	c := &fakeConn{id: "c"}
	hub.Register(c)

	assert.True(t, hub.Unregister(c))
	assert.False(t, hub.Unregister(c))
	assert.False(t, hub.Unregister(&fakeConn{id: "never"}))
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0, hub.Broadcast(KindAlert, nil))
}

func TestHubUnregisterDuringBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	victim := &fakeConn{id: "victim"}
	killer := &fakeConn{id: "killer"}
	killer.onSend = func() { hub.Unregister(victim) }
	hub.Register(victim)
	hub.Register(killer)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(KindSystemStatus, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast deadlocked")
	}
	assert.Equal(t, 1, hub.Count())
}

func TestHubPreservesPerConnectionOrder(t *testing.T) {
	hub := NewHub(nil, nil)
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	hub.Register(a)
	hub.Register(b)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				hub.Broadcast(KindDetectionUpdate, fmt.Sprintf("%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	ma, mb := a.messages(), b.messages()
	require.Len(t, ma, 100)
	assert.Equal(t, ma, mb)
}

func TestHandlerRegistersGorillaConnections(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Broadcast(KindDetectionUpdate, map[string]any{"object": "can"}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"detectionUpdate","data":{"object":"can"}}`, string(data))

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(Handler(hub, []string{"http://dashboard.local"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"http://evil.example"}})
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Count())
}
