// Package session owns the state of one replay session: the loaded video,
// whether an analysis is running, the latest analysis result and the current
// playback frame. All of it changes only through the methods here.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/playback"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrNoVideo     = errors.New("no video loaded")
	ErrWatchExists = errors.New("watcher id already exists")
)

// View is a consistent snapshot of the session. Version increases with
// every change, so of two views the one with the higher Version is newer.
type View struct {
	ID         string                 `json:"id"`
	Version    uint64                 `json:"version"`
	Video      *models.VideoSource    `json:"video,omitempty"`
	Analyzing  bool                   `json:"analyzing"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	Frame      int                    `json:"frame"`
	Generation uint64                 `json:"generation"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// RenderInput is the renderer triple for this view. Without a video there
// is never a trajectory, whatever result is still held.
func (v View) RenderInput() render.Input {
	in := render.Input{Frame: v.Frame, Analyzing: v.Analyzing}
	if v.Video != nil && v.Result != nil {
		in.Trajectory = v.Result.Trajectory
	}
	return in
}

// Watcher is told about every state change. It runs on the goroutine that
// made the change, outside the session lock, and must not block.
// Views may arrive out of order when changes race; compare Version.
type Watcher func(View)

type watcher struct {
	fn  Watcher
	seq uint64
}

type Session struct {
	id     string
	fps    int
	logger *zap.Logger

	mu         sync.Mutex
	video      *models.VideoSource
	analyzing  bool
	result     *models.AnalysisResult
	frame      int
	generation uint64
	version    uint64
	sync       *playback.Synchronizer
	updatedAt  time.Time

	watchMu  sync.Mutex
	watchers map[string]watcher
	watchSeq uint64
}

func New(fps int, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		fps:       fps,
		logger:    logger.With(zap.String("session_id", id)),
		updatedAt: time.Now(),
		watchers:  make(map[string]watcher),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:         s.id,
		Version:    s.version,
		Analyzing:  s.analyzing,
		Result:     s.result,
		Frame:      s.frame,
		Generation: s.generation,
		UpdatedAt:  s.updatedAt,
	}
	if s.video != nil {
		video := *s.video
		v.Video = &video
	}
	return v
}

// LastActive reports when the session last changed.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// LoadVideo replaces the playback source. The previous result is dropped and
// the frame reset to 0 at once; the previous synchronizer is closed so none
// of its listeners fire again.
func (s *Session) LoadVideo(video models.VideoSource) View {
	if video.ID == "" {
		video.ID = uuid.NewString()
	}
	if video.LoadedAt.IsZero() {
		video.LoadedAt = time.Now()
	}

	next := playback.NewSynchronizer(s.fps, s.logger)
	if _, err := next.Subscribe("session", func(frame int) { s.setFrame(next, frame) }); err != nil {
		s.logger.Error("Failed to attach playback listener", zap.Error(err))
	}

	s.mu.Lock()
	prev := s.sync
	s.video = &video
	s.result = nil
	s.frame = 0
	s.generation++
	s.sync = next
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	// Close outside the session lock: an emission in flight on prev holds
	// prev's lock and may be waiting for ours.
	if prev != nil {
		prev.Close()
	}

	s.logger.Info("Video loaded",
		zap.String("video_id", video.ID),
		zap.String("filename", video.Filename),
		zap.Int64("size", video.Size))
	s.notify(v)
	return v
}

// Reset unloads the video and drops the result.
func (s *Session) Reset() View {
	s.mu.Lock()
	prev := s.sync
	s.video = nil
	s.result = nil
	s.frame = 0
	s.generation++
	s.sync = nil
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.logger.Info("Session reset")
	s.notify(v)
	return v
}

// BeginAnalysis marks an analysis as running. It returns false, changing
// nothing, when one is already running or no video is loaded.
func (s *Session) BeginAnalysis() bool {
	s.mu.Lock()
	if s.analyzing || s.video == nil {
		s.mu.Unlock()
		return false
	}
	s.analyzing = true
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	s.notify(v)
	return true
}

// AbortAnalysis clears the running flag without producing a result. It is
// only used when the job could not be scheduled at all.
func (s *Session) AbortAnalysis() {
	s.mu.Lock()
	if !s.analyzing {
		s.mu.Unlock()
		return
	}
	s.analyzing = false
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	s.notify(v)
}

// CompleteAnalysis replaces metrics and trajectory together and clears the
// running flag.
func (s *Session) CompleteAnalysis(result models.AnalysisResult) View {
	s.mu.Lock()
	s.result = &result
	s.analyzing = false
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	s.logger.Info("Analysis complete",
		zap.String("analysis_id", result.ID),
		zap.Int("frames", len(result.Trajectory)),
		zap.String("prediction", string(result.Metrics.Prediction)))
	s.notify(v)
	return v
}

// UpdatePlayback feeds the elapsed playback time of the current video
// through its synchronizer and returns the emitted frame.
func (s *Session) UpdatePlayback(seconds float64) (int, error) {
	s.mu.Lock()
	src := s.sync
	s.mu.Unlock()

	if src == nil {
		return 0, ErrNoVideo
	}
	frame, err := src.Update(seconds)
	if err != nil {
		// The video was replaced while this update was in flight.
		return frame, fmt.Errorf("playback update: %w", err)
	}
	return frame, nil
}

// setFrame applies a frame emitted by src, unless src has been replaced.
func (s *Session) setFrame(src *playback.Synchronizer, frame int) {
	s.mu.Lock()
	if src != s.sync {
		s.mu.Unlock()
		return
	}
	s.frame = frame
	s.touchLocked()
	v := s.viewLocked()
	s.mu.Unlock()

	s.notify(v)
}

// PlaybackStats reports on the current synchronizer, if any.
func (s *Session) PlaybackStats() (playback.Stats, bool) {
	s.mu.Lock()
	src := s.sync
	s.mu.Unlock()
	if src == nil {
		return playback.Stats{}, false
	}
	return src.Stats(), true
}

// Watch registers fn for state changes. The returned function removes only
// this registration, even if id is reused later, and is safe to call more
// than once.
func (s *Session) Watch(id string, fn Watcher) (func(), error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if _, exists := s.watchers[id]; exists {
		return nil, fmt.Errorf("watch %q: %w", id, ErrWatchExists)
	}
	s.watchSeq++
	seq := s.watchSeq
	s.watchers[id] = watcher{fn: fn, seq: seq}

	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if w, ok := s.watchers[id]; ok && w.seq == seq {
			delete(s.watchers, id)
		}
	}, nil
}

// Unwatch removes the watcher registered as id, if any.
func (s *Session) Unwatch(id string) {
	s.watchMu.Lock()
	delete(s.watchers, id)
	s.watchMu.Unlock()
}

func (s *Session) notify(v View) {
	s.watchMu.Lock()
	fns := make([]Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		fns = append(fns, w.fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		s.callWatcher(fn, v)
	}
}

func (s *Session) callWatcher(fn Watcher, v View) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session watcher panic", zap.Any("panic", r))
		}
	}()
	fn(v)
}

// Close releases the playback source and drops all watchers.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.sync
	s.sync = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	s.watchMu.Lock()
	s.watchers = make(map[string]watcher)
	s.watchMu.Unlock()
}

// touchLocked records a change. Every setter calls it under s.mu.
func (s *Session) touchLocked() {
	s.version++
	s.updatedAt = time.Now()
}
