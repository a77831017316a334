package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/campusbridge/campusbridge/internal/auth"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/logger"
)

type feedEvent struct {
	Type string `json:"type"`
	Post struct {
		ID string `json:"id"`
	} `json:"post"`
}

// feedServer serves the feed with a fixed authenticated user in context.
func feedServer(t *testing.T, hub *Hub, origins []string, authenticated bool) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, origins)
	user := &auth.UserInfo{ID: uuid.New(), Name: "Asha Patel", UserName: "asha_p"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authenticated {
			r = r.WithContext(auth.WithUser(r.Context(), user))
		}
		apperrors.HandleFunc(h.ServeWS)(w, r)
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active atomic.Int64
	hub := NewHub(func(n int) { active.Store(int64(n)) })
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := feedServer(t, hub, []string{"http://localhost:5173"}, true)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), active.Load())

	postID := uuid.New().String()
	hub.Publish(map[string]any{"type": "post_created", "post": map[string]string{"id": postID}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got feedEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "post_created", got.Type)
	assert.Equal(t, postID, got.Post.ID)

	cancel()
	<-stopped

	// The hub closes subscribers on shutdown.
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, int64(0), active.Load())
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	srv := feedServer(t, hub, nil, true)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(nil)
	srv := feedServer(t, hub, []string{"http://localhost:5173"}, true)
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerRequiresUser(t *testing.T) {
	hub := NewHub(nil)
	srv := feedServer(t, hub, nil, false)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Publish(map[string]int{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stopped hub")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHubLogsSubscriberIdentity(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out lockedBuffer
	hub := NewHub(nil)
	hub.log = logger.New(&out, logger.LevelDebug, "websocket")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	userID := uuid.New()
	h := NewHandler(hub, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(auth.WithUser(r.Context(), &auth.UserInfo{ID: userID, UserName: "asha_p"}))
		apperrors.HandleFunc(h.ServeWS)(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), userID.String())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "feed client connected")
}
