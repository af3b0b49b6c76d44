package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/cricket-hawkeye/server/delivery"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/processor"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"github.com/san-kum/cricket-hawkeye/server/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newWSServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := session.NewManager(session.ManagerConfig{FPS: 30}, nil)
	cfg := processor.DefaultAnalyzerConfig()
	cfg.Delay = 0
	analyzer := processor.NewAnalyzer(cfg, delivery.NewSeededSampler(1, 1), nil)

	h := NewWebSocketHandler(sessions, analyzer, nil, []string{"http://allowed.test"}, nil)
	r := gin.New()
	r.GET("/ws/sessions/:id", h.HandleWebSocket)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		analyzer.Shutdown()
		sessions.Shutdown()
	})
	return srv, sessions
}

func dial(t *testing.T, srv *httptest.Server, id string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads until a message of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, want string) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketInitialState(t *testing.T) {
	srv, sessions := newWSServer(t)
	s, err := sessions.Create()
	require.NoError(t, err)

	conn := dial(t, srv, s.ID(), nil)

	var first wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)

	var view session.View
	require.NoError(t, json.Unmarshal(first.Data, &view))
	assert.Equal(t, s.ID(), view.ID)

	frame := next(t, conn, "frame")
	assert.Contains(t, string(frame.Data), `"state":"idle"`)
}

func TestWebSocketTimeUpdates(t *testing.T) {
	srv, sessions := newWSServer(t)
	s, err := sessions.Create()
	require.NoError(t, err)

	conn := dial(t, srv, s.ID(), nil)
	next(t, conn, "frame")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "time", Seconds: ptr(1.0)}))
	errMsg := next(t, conn, "error")
	assert.Contains(t, string(errMsg.Data), "no video loaded")

	s.LoadVideo(models.VideoSource{Filename: "delivery.mp4"})
	next(t, conn, "state")
	next(t, conn, "frame")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "time", Seconds: ptr(1.0)}))
	msg := next(t, conn, "frame")
	var payload struct {
		Frame int `json:"frame"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, 30, payload.Frame)
}

func TestWebSocketAnalyze(t *testing.T) {
	srv, sessions := newWSServer(t)
	s, err := sessions.Create()
	require.NoError(t, err)
	s.LoadVideo(models.VideoSource{Filename: "delivery.mp4"})

	conn := dial(t, srv, s.ID(), nil)
	next(t, conn, "frame")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "analyze"}))
	require.Eventually(t, func() bool { return s.View().Result != nil }, 2*time.Second, 5*time.Millisecond)

	for {
		msg := next(t, conn, "frame")
		if strings.Contains(string(msg.Data), `"state":"scene"`) {
			break
		}
	}
}

func TestWebSocketPingAndUnknown(t *testing.T) {
	srv, sessions := newWSServer(t)
	s, err := sessions.Create()
	require.NoError(t, err)

	conn := dial(t, srv, s.ID(), nil)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	next(t, conn, "pong")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))
	msg := next(t, conn, "error")
	assert.Contains(t, string(msg.Data), "bogus")
}

func TestWebSocketRejects(t *testing.T) {
	srv, sessions := newWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/"

	_, resp, err := websocket.DefaultDialer.Dial(url+"missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s, err := sessions.Create()
	require.NoError(t, err)
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err = websocket.DefaultDialer.Dial(url+s.ID(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://allowed.test"}}
	conn := dial(t, srv, s.ID(), header)
	next(t, conn, "frame")
}

func TestPublishDropsOlderViews(t *testing.T) {
	h := NewWebSocketHandler(nil, nil, nil, nil, nil)
	client := &wsClient{
		out:    make(chan ServerMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}

	s := session.New(30, nil)
	s.LoadVideo(models.VideoSource{Filename: "delivery.mp4"})
	require.True(t, s.BeginAnalysis())
	_, err := s.UpdatePlayback(1)
	require.NoError(t, err)
	stale := s.View()
	fresh := s.CompleteAnalysis(models.AnalysisResult{ID: "a1", Trajectory: trajectory.Default()})

	h.publish(client, fresh)
	h.publish(client, stale)
	h.publish(client, fresh)

	require.Len(t, client.out, 2)
	state := <-client.out
	assert.Equal(t, "state", state.Type)
	view, ok := state.Data.(session.View)
	require.True(t, ok)
	assert.False(t, view.Analyzing)
	assert.NotNil(t, view.Result)

	frame := <-client.out
	assert.Equal(t, "frame", frame.Type)
	payload, ok := frame.Data.(FramePayload)
	require.True(t, ok)
	assert.Equal(t, 30, payload.Frame)
	assert.Equal(t, "scene", string(payload.Scene.Frame.State))
}

func ptr(v float64) *float64 { return &v }
