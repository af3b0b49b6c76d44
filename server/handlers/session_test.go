package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/cricket-hawkeye/server/cache"
	"github.com/san-kum/cricket-hawkeye/server/delivery"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/processor"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router   *gin.Engine
	sessions *session.Manager
	analyzer *processor.Analyzer
	cache    *cache.MemoryCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := session.NewManager(session.ManagerConfig{FPS: 30, MaxSessions: 3}, nil)
	cfg := processor.DefaultAnalyzerConfig()
	cfg.Delay = 0
	analyzer := processor.NewAnalyzer(cfg, delivery.NewSeededSampler(3, 5), nil)
	snapshots := cache.NewMemoryCache(16, time.Minute, nil)
	t.Cleanup(func() {
		analyzer.Shutdown()
		sessions.Shutdown()
		snapshots.Close()
	})

	h := NewSessionHandler(sessions, analyzer, render.NewRenderer(), snapshots, SnapshotOptions{
		Width:       80,
		Height:      45,
		Supersample: 1,
		TTL:         time.Minute,
	}, nil)

	r := gin.New()
	r.GET("/stats", h.GetStats)
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/sessions/:id/video", h.UploadVideo)
	r.DELETE("/sessions/:id/video", h.ResetVideo)
	r.POST("/sessions/:id/analyze", h.Analyze)
	r.POST("/sessions/:id/playback", h.UpdatePlayback)
	r.GET("/sessions/:id/metrics", h.GetMetrics)
	r.GET("/sessions/:id/scene", h.GetScene)
	r.GET("/sessions/:id/snapshot", h.GetSnapshot)
	r.GET("/sessions/:id/charts", h.GetCharts)
	r.GET("/sessions/:id/elevation.png", h.GetElevation)

	return &testEnv{router: r, sessions: sessions, analyzer: analyzer, cache: snapshots}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var view session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func uploadRequest(t *testing.T, id, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type uploadResponse struct {
	Loaded  bool         `json:"loaded"`
	Session session.View `json:"session"`
}

func (e *testEnv) loadVideo(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, uploadRequest(t, id, "delivery.mp4", "video/mp4", []byte("not really mp4")))
	require.Equal(t, http.StatusOK, w.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Loaded)
}

func (e *testEnv) analyze(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/analyze", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	s, err := e.sessions.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := s.View()
		return !v.Analyzing && v.Result != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func playbackRequest(id, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/playback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateAndGetSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	first := env.createSession(t)
	second := env.createSession(t)
	time.Sleep(time.Millisecond)
	env.loadVideo(t, first)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []session.View `json:"sessions"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, second, resp.Sessions[0].ID)
	assert.Equal(t, first, resp.Sessions[1].ID)
}

func TestCreateSessionLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.createSession(t)
	}
	w := env.do(t, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadVideo(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, uploadRequest(t, id, "delivery.mp4", "video/mp4", []byte("frames")))
	require.Equal(t, http.StatusOK, w.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Loaded)
	require.NotNil(t, resp.Session.Video)
	assert.Equal(t, "delivery.mp4", resp.Session.Video.Filename)
	assert.Equal(t, "video/mp4", resp.Session.Video.ContentType)
	assert.EqualValues(t, 6, resp.Session.Video.Size)
}

func TestUploadNonVideoIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, uploadRequest(t, id, "notes.txt", "", []byte("just some text")))
	require.Equal(t, http.StatusOK, w.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Loaded)
	assert.Nil(t, resp.Session.Video)
}

func TestUploadSniffsGenericContentType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     []byte
		want     string
	}{
		{"quicktime", "clip.mov", []byte("\x00\x00\x00\x14ftypqt  \x00\x00\x02\x00qt  \x00\x00\x00\x08wide"), "video/quicktime"},
		{"mp4", "clip.mp4", []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2\x00\x00\x00\x08free"), "video/mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.createSession(t)

			w := env.do(t, uploadRequest(t, id, tt.filename, "application/octet-stream", tt.body))
			require.Equal(t, http.StatusOK, w.Code)

			var resp uploadResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.Loaded)
			require.NotNil(t, resp.Session.Video)
			assert.Equal(t, tt.want, resp.Session.Video.ContentType)
		})
	}
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/video", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeWithoutVideo(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/analyze", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["started"])
	assert.Equal(t, "no video loaded", resp["reason"])
}

func TestAnalyzeThenMetrics(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.loadVideo(t, id)
	env.analyze(t, id)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AnalysisID string `json:"analysis_id"`
		Metrics    struct {
			Speed      float64 `json:"speed"`
			Prediction string  `json:"prediction"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AnalysisID)
	assert.True(t, delivery.SpeedRange.Contains(resp.Metrics.Speed))
	assert.Contains(t, []string{"Hitting Stumps", "Missing Leg"}, resp.Metrics.Prediction)
}

func TestPlayback(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, playbackRequest(id, `{"seconds": 1}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	env.loadVideo(t, id)

	w = env.do(t, playbackRequest(id, `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, playbackRequest(id, `{"seconds": 1.5}`))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Frame   int          `json:"frame"`
		Session session.View `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 45, resp.Frame)
	assert.Equal(t, 45, resp.Session.Frame)
}

// sceneResponse decodes the parts of render.View a client dispatches on.
type sceneResponse struct {
	Frame render.Frame `json:"frame"`
	Graph struct {
		Camera *render.Camera `json:"camera"`
		Static []struct {
			Kind string `json:"kind"`
		} `json:"static"`
		Markers []json.RawMessage `json:"markers"`
	} `json:"graph"`
}

func TestSceneFollowsState(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	get := func(query string) sceneResponse {
		t.Helper()
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/scene"+query, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var view sceneResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		return view
	}

	idle := get("")
	assert.Equal(t, render.StateIdle, idle.Frame.State)
	assert.Empty(t, idle.Graph.Static)

	env.loadVideo(t, id)
	env.analyze(t, id)

	view := get("?frame=65")
	assert.Equal(t, render.StateScene, view.Frame.State)
	assert.Equal(t, 5, view.Frame.Index)
	assert.Equal(t, 60, view.Frame.Length)
	require.NotNil(t, view.Frame.Ball)
	assert.Len(t, view.Graph.Static, 15)
	assert.Len(t, view.Graph.Markers, 14)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/scene?frame=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/scene?azimuth=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSceneCameraParams(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.loadVideo(t, id)
	env.analyze(t, id)

	get := func(query string) *render.Camera {
		t.Helper()
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/scene"+query, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var view sceneResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		require.NotNil(t, view.Graph.Camera)
		return view.Graph.Camera
	}
	dist := func(cam *render.Camera) float64 {
		dx := cam.Position.X - cam.Target.X
		dy := cam.Position.Y - cam.Target.Y
		dz := cam.Position.Z - cam.Target.Z
		return math.Sqrt(dx*dx + dy*dy + dz*dz)
	}

	base := get("")
	assert.Equal(t, models.Position3D{}, base.Target)

	panned := get("?pan_x=2&pan_y=1")
	assert.NotEqual(t, base.Target, panned.Target)
	assert.InDelta(t, dist(base), dist(panned), 1e-9)

	zoomed := get("?zoom=0.5")
	assert.InDelta(t, dist(base)/2, dist(zoomed), 1e-9)

	for _, query := range []string{"?pan_x=NaN", "?pan_y=abc", "?zoom=x"} {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/scene"+query, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}

	url := "/sessions/" + id + "/snapshot?format=png"
	require.Equal(t, "MISS", env.do(t, httptest.NewRequest(http.MethodGet, url, nil)).Header().Get("X-Cache"))
	require.Equal(t, "MISS", env.do(t, httptest.NewRequest(http.MethodGet, url+"&pan_x=1", nil)).Header().Get("X-Cache"))
	require.Equal(t, "HIT", env.do(t, httptest.NewRequest(http.MethodGet, url+"&pan_x=1", nil)).Header().Get("X-Cache"))
}

func TestResetVideoClearsScene(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.loadVideo(t, id)
	env.analyze(t, id)

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+id+"/video", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/charts", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotIsCached(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.loadVideo(t, id)
	env.analyze(t, id)

	url := "/sessions/" + id + "/snapshot?format=png&frame=10"
	w := env.do(t, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, "scene", w.Header().Get("X-Render-State"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 45, img.Bounds().Dy())

	w = env.do(t, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/snapshot?format=gif", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.loadVideo(t, id)
	w = env.do(t, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, "idle", w.Header().Get("X-Render-State"))
}

func TestChartsAndElevation(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/elevation.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.loadVideo(t, id)
	env.analyze(t, id)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/charts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "echarts")

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/elevation.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.loadVideo(t, id)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	for _, key := range []string{"system", "sessions", "analyzer", "queue", "metrics", "cache"} {
		assert.Contains(t, resp, key)
	}

	var system SystemStats
	require.NoError(t, json.Unmarshal(resp["system"], &system))
	assert.EqualValues(t, 1, system.Uploads)
}
