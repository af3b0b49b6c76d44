package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/san-kum/cricket-hawkeye/server/cache"
	"github.com/san-kum/cricket-hawkeye/server/charts"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/playback"
	"github.com/san-kum/cricket-hawkeye/server/processor"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"github.com/san-kum/cricket-hawkeye/server/render/raster"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"go.uber.org/zap"
	"gonum.org/v1/plot/vg"
)

// SnapshotOptions sizes server-side renders and bounds how long they are
// kept.
type SnapshotOptions struct {
	Width       int
	Height      int
	Supersample int
	TTL         time.Duration
}

type SessionHandler struct {
	sessions  *session.Manager
	analyzer  *processor.Analyzer
	renderer  *render.Renderer
	snapshots cache.Cache
	snapshot  SnapshotOptions
	logger    *zap.Logger
	stats     *SystemStats
}

// SystemStats counts request outcomes across all sessions.
type SystemStats struct {
	StartTime       time.Time `json:"start_time"`
	Uploads         int64     `json:"uploads"`
	IgnoredUploads  int64     `json:"ignored_uploads"`
	Analyses        int64     `json:"analyses"`
	PlaybackUpdates int64     `json:"playback_updates"`
	Snapshots       int64     `json:"snapshots"`
	SnapshotHits    int64     `json:"snapshot_hits"`
}

type PlaybackRequest struct {
	Seconds *float64 `json:"seconds" binding:"required"`
}

func NewSessionHandler(sessions *session.Manager, analyzer *processor.Analyzer, renderer *render.Renderer, snapshots cache.Cache, opts SnapshotOptions, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	return &SessionHandler{
		sessions:  sessions,
		analyzer:  analyzer,
		renderer:  renderer,
		snapshots: snapshots,
		snapshot:  opts,
		logger:    logger,
		stats:     &SystemStats{StartTime: time.Now()},
	}
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many sessions"})
			return
		}
		h.logger.Error("Failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, s.View())
}

// ListSessions returns every live session, least recently active first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	views := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{"sessions": views, "count": len(views)})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	h.dropSnapshots(c, id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// UploadVideo loads the uploaded file as the session's playback source.
// Files that are not video are ignored and the session is returned as it
// was.
func (h *SessionHandler) UploadVideo(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large", "max_size": tooLarge.Limit})
			return
		}
		h.logger.Warn("Failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	contentType, err := videoContentType(file, header)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}

	if !strings.HasPrefix(contentType, "video/") {
		atomic.AddInt64(&h.stats.IgnoredUploads, 1)
		h.logger.Info("Ignoring non-video upload",
			zap.String("session_id", s.ID()),
			zap.String("filename", header.Filename),
			zap.String("content_type", contentType))
		c.JSON(http.StatusOK, gin.H{"loaded": false, "session": s.View()})
		return
	}

	view := s.LoadVideo(models.VideoSource{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	})
	atomic.AddInt64(&h.stats.Uploads, 1)
	h.dropSnapshots(c, s.ID())

	c.JSON(http.StatusOK, gin.H{"loaded": true, "session": view})
}

// ResetVideo unloads the video so another can be chosen.
func (h *SessionHandler) ResetVideo(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	view := s.Reset()
	h.dropSnapshots(c, s.ID())
	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) Analyze(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	started, err := h.analyzer.Trigger(s)
	if err != nil {
		if errors.Is(err, processor.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis queue full, try again later"})
			return
		}
		h.logger.Error("Failed to start analysis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start analysis"})
		return
	}

	view := s.View()
	if !started {
		reason := "analysis already running"
		if view.Video == nil {
			reason = "no video loaded"
		}
		c.JSON(http.StatusOK, gin.H{"started": false, "reason": reason, "session": view})
		return
	}

	atomic.AddInt64(&h.stats.Analyses, 1)
	c.JSON(http.StatusAccepted, gin.H{"started": true, "session": view})
}

func (h *SessionHandler) UpdatePlayback(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var request PlaybackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	frame, err := s.UpdatePlayback(*request.Seconds)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoVideo):
			c.JSON(http.StatusConflict, gin.H{"error": "No video loaded"})
		case errors.Is(err, playback.ErrClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "Video replaced during update"})
		default:
			h.logger.Error("Playback update failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Playback update failed"})
		}
		return
	}

	atomic.AddInt64(&h.stats.PlaybackUpdates, 1)
	c.JSON(http.StatusOK, gin.H{"frame": frame, "session": s.View()})
}

func (h *SessionHandler) GetMetrics(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	view := s.View()
	if view.Video == nil || view.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": view.Result.ID,
		"metrics":     view.Result.Metrics,
		"created_at":  view.Result.CreatedAt,
	})
}

// GetScene returns the scene graph for the session's current frame, or
// for ?frame= when given.
func (h *SessionHandler) GetScene(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	in, cam, err := h.viewParams(c, s.View())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.renderer.BuildView(in, cam))
}

func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	format, err := raster.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view := s.View()
	in, cam, err := h.viewParams(c, view)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := snapshotKey(view, in, cam, format)
	if h.snapshots != nil {
		if data, err := h.snapshots.Get(c.Request.Context(), key); err == nil {
			atomic.AddInt64(&h.stats.SnapshotHits, 1)
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, format.ContentType(), data)
			return
		}
	}

	canvas := raster.NewCanvas(raster.Options{
		Width:       h.snapshot.Width,
		Height:      h.snapshot.Height,
		Supersample: h.snapshot.Supersample,
	})
	frame := h.renderer.RenderWith(in, cam, canvas)
	data, err := raster.EncodeBytes(canvas.Image(), format)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err), zap.String("session_id", s.ID()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render snapshot"})
		return
	}
	atomic.AddInt64(&h.stats.Snapshots, 1)

	if h.snapshots != nil {
		if err := h.snapshots.SetWithTTL(c.Request.Context(), key, data, h.snapshot.TTL); err != nil {
			h.logger.Warn("Failed to cache snapshot", zap.Error(err))
		}
	}

	c.Header("X-Cache", "MISS")
	c.Header("X-Render-State", string(frame.State))
	c.Data(http.StatusOK, format.ContentType(), data)
}

func (h *SessionHandler) GetCharts(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	err := charts.WritePage(&buf, s.View().RenderInput().Trajectory, h.analyzer.Params())
	if !h.chartResult(c, err) {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *SessionHandler) GetElevation(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	err := charts.WriteElevationPNG(&buf, s.View().RenderInput().Trajectory, h.analyzer.Params(), 8*vg.Inch, 4*vg.Inch)
	if !h.chartResult(c, err) {
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *SessionHandler) chartResult(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, charts.ErrNoTrajectory):
		c.JSON(http.StatusNotFound, gin.H{"error": "No trajectory available"})
	default:
		h.logger.Error("Failed to draw chart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to draw chart"})
	}
	return false
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	stats := SystemStats{
		StartTime:       h.stats.StartTime,
		Uploads:         atomic.LoadInt64(&h.stats.Uploads),
		IgnoredUploads:  atomic.LoadInt64(&h.stats.IgnoredUploads),
		Analyses:        atomic.LoadInt64(&h.stats.Analyses),
		PlaybackUpdates: atomic.LoadInt64(&h.stats.PlaybackUpdates),
		Snapshots:       atomic.LoadInt64(&h.stats.Snapshots),
		SnapshotHits:    atomic.LoadInt64(&h.stats.SnapshotHits),
	}

	response := gin.H{
		"system":   stats,
		"sessions": h.sessions.Stats(),
		"analyzer": h.analyzer.GetStats(),
		"queue":    h.analyzer.QueueStats(),
		"metrics": gin.H{
			"uptime_seconds": time.Since(stats.StartTime).Seconds(),
		},
	}
	if h.snapshots != nil {
		if cacheStats, err := h.snapshots.GetStats(c.Request.Context()); err == nil {
			response["cache"] = cacheStats
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) dropSnapshots(c *gin.Context, id string) {
	if h.snapshots == nil {
		return
	}
	if _, err := h.snapshots.DeletePrefix(c.Request.Context(), id+":"); err != nil {
		h.logger.Warn("Failed to drop snapshots", zap.Error(err), zap.String("session_id", id))
	}
}

// viewParams reads the optional frame and camera query parameters:
// azimuth, polar and distance place the camera, zoom scales the distance,
// pan_x and pan_y slide the target in the screen plane.
func (h *SessionHandler) viewParams(c *gin.Context, view session.View) (render.Input, render.OrbitCamera, error) {
	in := view.RenderInput()
	if raw, ok := c.GetQuery("frame"); ok {
		frame, err := strconv.Atoi(raw)
		if err != nil {
			return in, render.OrbitCamera{}, fmt.Errorf("invalid frame %q", raw)
		}
		in.Frame = frame
	}

	cam := h.renderer.Camera()
	azimuth, polar, distance := cam.Azimuth, cam.Polar, cam.Distance
	zoom, panX, panY := 1.0, 0.0, 0.0
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"azimuth", &azimuth},
		{"polar", &polar},
		{"distance", &distance},
		{"zoom", &zoom},
		{"pan_x", &panX},
		{"pan_y", &panY},
	} {
		raw, ok := c.GetQuery(p.name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return in, cam, fmt.Errorf("invalid %s %q", p.name, raw)
		}
		*p.dst = v
	}
	if math.IsNaN(panX) || math.IsInf(panX, 0) || math.IsNaN(panY) || math.IsInf(panY, 0) {
		return in, cam, fmt.Errorf("invalid pan %v,%v", panX, panY)
	}
	cam = cam.WithOrbit(azimuth, polar, distance).Zoom(zoom)
	if panX != 0 || panY != 0 {
		cam = cam.Pan(panX, panY)
	}
	return in, cam, nil
}

// snapshotKey covers everything that changes the rendered image. Keys are
// prefixed with the session id so a session's entries can be dropped
// together.
func snapshotKey(view session.View, in render.Input, cam render.OrbitCamera, format raster.Format) string {
	resultID := ""
	if view.Result != nil {
		resultID = view.Result.ID
	}
	hash := cache.GenerateCacheKey(
		string(format),
		strconv.FormatUint(view.Generation, 10),
		resultID,
		strconv.FormatBool(in.Analyzing),
		strconv.Itoa(len(in.Trajectory)),
		strconv.Itoa(render.DisplayIndex(in.Frame, len(in.Trajectory))),
		strconv.FormatFloat(cam.Azimuth, 'g', -1, 64),
		strconv.FormatFloat(cam.Polar, 'g', -1, 64),
		strconv.FormatFloat(cam.Distance, 'g', -1, 64),
		strconv.FormatFloat(cam.Target.X, 'g', -1, 64),
		strconv.FormatFloat(cam.Target.Y, 'g', -1, 64),
		strconv.FormatFloat(cam.Target.Z, 'g', -1, 64),
	)
	return view.ID + ":" + hash
}

// videoContentType trusts the part's declared type unless it is missing or
// generic, in which case the leading bytes are sniffed.
func videoContentType(file multipart.File, header *multipart.FileHeader) (string, error) {
	declared := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("sniff upload: %w", err)
	}
	return mt.String(), nil
}
