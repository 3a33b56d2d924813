package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/lan-chat/internal/stats"
	"github.com/npezzotti/lan-chat/internal/testutil"
	"github.com/npezzotti/lan-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestNotifier creates a Notifier that accepts any metric updates.
func newTestNotifier(t *testing.T) *Notifier {
	return NewNotifier(testutil.TestLogger(t), stats.NewPermissiveMock())
}

func newTestClient(n *Notifier, userId int, buf int) *Client {
	return &Client{
		id:       "test",
		notifier: n,
		userId:   userId,
		send:     make(chan *types.Event, buf),
		stop:     make(chan struct{}),
	}
}

func TestNewNotifier(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return().Times(3)

	logger := testutil.TestLogger(t)
	n := NewNotifier(logger, su)
	assert.NotNil(t, n, "expected Notifier to be non-nil")
	assert.Equal(t, logger, n.log, "expected logger to be set")
	assert.NotNil(t, n.registerChan, "expected registerChan to be initialized")
	assert.NotNil(t, n.deregisterChan, "expected deregisterChan to be initialized")
	assert.NotNil(t, n.broadcastChan, "expected broadcastChan to be initialized")
	assert.NotNil(t, n.clients, "expected clients map to be initialized")
	assert.NotNil(t, n.userMap, "expected userMap to be initialized")
}

func TestNotifier_addClient_removeClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", metricActiveClients).Twice()
	su.On("Decr", metricActiveClients).Twice()
	defer su.AssertExpectations(t)

	n := NewNotifier(testutil.TestLogger(t), su)
	c1 := newTestClient(n, 1, 1)
	c2 := newTestClient(n, 1, 1)

	assert.True(t, n.addClient(c1), "expected first connection of user to be reported")
	assert.False(t, n.addClient(c2), "expected second connection of user not to be reported")
	assert.False(t, n.addClient(c1), "expected duplicate add to be ignored")
	assert.True(t, n.IsOnline(1))
	assert.Equal(t, 2, n.NumClients())

	assert.False(t, n.removeClient(c1), "expected user to remain online with one connection")
	assert.True(t, n.IsOnline(1))
	assert.True(t, n.removeClient(c2), "expected last connection removal to be reported")
	assert.False(t, n.removeClient(c2), "expected duplicate remove to be ignored")
	assert.False(t, n.IsOnline(1))
	assert.Equal(t, 0, n.NumClients())
}

func TestNotifier_fanout(t *testing.T) {
	n := newTestNotifier(t)
	healthy := newTestClient(n, 1, 4)
	slow := newTestClient(n, 2, 1)
	n.addClient(healthy)
	n.addClient(slow)
	slow.send <- &types.Event{} // full

	n.fanout(types.MessageUpdate)

	select {
	case ev := <-healthy.send:
		assert.Equal(t, types.MessageUpdate, ev.Type)
	default:
		t.Fatal("expected healthy client to receive the event")
	}

	assert.False(t, n.IsOnline(2), "expected slow client to be dropped")
	select {
	case <-slow.stop:
	default:
		t.Error("expected slow client to be stopped")
	}
	assert.True(t, n.IsOnline(1), "expected healthy client to be kept")

	select {
	case ev := <-n.broadcastChan:
		assert.Equal(t, types.UserUpdate, ev, "expected presence change to be queued")
	default:
		t.Error("expected a USER_UPDATE to be queued after dropping the user's last connection")
	}
}

func TestNotifier_BroadcastNonBlocking(t *testing.T) {
	n := newTestNotifier(t)
	done := make(chan struct{})
	go func() {
		// Run is not started, so the queue fills up
		for i := 0; i < broadcastBuffer+10; i++ {
			n.Broadcast(types.MessageUpdate)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Broadcast not to block when the queue is full")
	}
	assert.Len(t, n.broadcastChan, broadcastBuffer)
}

func TestNotifier_RunPresenceAndShutdown(t *testing.T) {
	n := newTestNotifier(t)
	go n.Run()

	watcher := newTestClient(n, 1, 8)
	n.Subscribe(watcher)

	// the watcher's own first connection triggers a presence event
	assert.Equal(t, types.UserUpdate, (<-watcher.send).Type)

	other := newTestClient(n, 2, 8)
	n.Subscribe(other)
	assert.Equal(t, types.UserUpdate, (<-watcher.send).Type, "expected watcher to see user 2 come online")

	n.Broadcast(types.LogUpdate)
	assert.Equal(t, types.LogUpdate, (<-watcher.send).Type)

	n.Unsubscribe(other)
	assert.Equal(t, types.UserUpdate, (<-watcher.send).Type, "expected watcher to see user 2 go offline")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))

	select {
	case <-watcher.stop:
	default:
		t.Error("expected watcher to be stopped on shutdown")
	}

	// calls after shutdown must not block
	late := newTestClient(n, 3, 1)
	n.Subscribe(late)
	n.Unsubscribe(late)
	select {
	case <-late.stop:
	default:
		t.Error("expected late subscriber to be stopped immediately")
	}
}

func TestNotifier_ShutdownDeadline(t *testing.T) {
	n := newTestNotifier(t)
	// Run is never started, so nobody receives the stop request

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := n.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifier_WebsocketIntegration(t *testing.T) {
	n := newTestNotifier(t)
	go n.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n.Shutdown(ctx)
	}()

	var nextUser atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(int(nextUser.Add(1)), conn, n, testutil.TestLogger(t))
		n.Subscribe(c)
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		return conn
	}

	readEvent := func(conn *websocket.Conn) types.Event {
		var ev types.Event
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	a := dial()
	defer a.Close()
	assert.Equal(t, types.UserUpdate, readEvent(a).Type)

	b := dial()
	assert.Equal(t, types.UserUpdate, readEvent(a).Type)
	assert.Equal(t, types.UserUpdate, readEvent(b).Type)

	n.Broadcast(types.MessageUpdate)
	assert.Equal(t, types.MessageUpdate, readEvent(a).Type)
	assert.Equal(t, types.MessageUpdate, readEvent(b).Type)

	// a disconnecting client is removed and the others are told
	b.Close()
	assert.Equal(t, types.UserUpdate, readEvent(a).Type)
	assert.Eventually(t, func() bool { return n.NumClients() == 1 }, time.Second, 10*time.Millisecond)
}
