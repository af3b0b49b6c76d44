// Package playback maps the elapsed time reported by a video player to a
// trajectory frame index and fans it out to listeners.
//
// A Synchronizer belongs to exactly one playback source. When the source is
// replaced the synchronizer is closed, which detaches every listener; no
// frame is delivered after Close returns.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

const DefaultFPS = 30

var (
	ErrListenerExists = errors.New("listener id already exists")
	ErrClosed         = errors.New("synchronizer is closed")
)

// Listener receives every frame computed from a time update.
type Listener func(frame int)

type entry struct {
	fn  Listener
	seq uint64
}

type Synchronizer struct {
	fps    int
	logger *zap.Logger

	// mu is held for the whole of an emission so that Unsubscribe and Close
	// cannot return while a listener is still being called. Listeners must
	// not call back into the synchronizer.
	mu        sync.Mutex
	listeners map[string]entry
	order     []string
	seq       uint64
	closed    bool
	last      int
	emitted   uint64
}

func NewSynchronizer(fps int, logger *zap.Logger) *Synchronizer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		fps:       fps,
		logger:    logger,
		listeners: make(map[string]entry),
	}
}

// FrameAt converts elapsed seconds to frame floor(seconds*fps). Negative and
// NaN inputs map to frame 0.
func FrameAt(seconds float64, fps int) int {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	f := math.Floor(seconds * float64(fps))
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// Subscribe attaches fn under id. The returned function detaches it and may
// be called any number of times, so it can be deferred unconditionally.
func (s *Synchronizer) Subscribe(id string, fn Listener) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, exists := s.listeners[id]; exists {
		return nil, fmt.Errorf("subscribe %q: %w", id, ErrListenerExists)
	}
	s.seq++
	seq := s.seq
	s.listeners[id] = entry{fn: fn, seq: seq}
	s.order = append(s.order, id)

	// Only detach the registration made here, even if id is reused later.
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.listeners[id]; ok && e.seq == seq {
			s.remove(id)
		}
	}, nil
}

// Unsubscribe detaches id. Unknown ids and a closed synchronizer are ignored.
func (s *Synchronizer) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

func (s *Synchronizer) remove(id string) {
	if _, exists := s.listeners[id]; !exists {
		return
	}
	delete(s.listeners, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Update computes the frame for the elapsed time and delivers it to every
// listener in subscription order. A seek produces a single jump; nothing is
// interpolated. It returns the computed frame, or ErrClosed.
func (s *Synchronizer) Update(seconds float64) (int, error) {
	frame := FrameAt(seconds, s.fps)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return frame, ErrClosed
	}
	s.last = frame
	s.emitted++
	for _, id := range s.order {
		s.deliver(id, s.listeners[id].fn, frame)
	}
	return frame, nil
}

func (s *Synchronizer) deliver(id string, fn Listener, frame int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Playback listener panic",
				zap.String("listener", id),
				zap.Int("frame", frame),
				zap.Any("panic", r))
		}
	}()
	fn(frame)
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Listeners: len(s.listeners),
		Emitted:   s.emitted,
		LastFrame: s.last,
		Closed:    s.closed,
	}
}

type Stats struct {
	Listeners int    `json:"listeners"`
	Emitted   uint64 `json:"emitted"`
	LastFrame int    `json:"last_frame"`
	Closed    bool   `json:"closed"`
}

// Close detaches all listeners. Later updates return ErrClosed and later
// subscriptions fail. Closing twice is a no-op.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.listeners = make(map[string]entry)
	s.order = nil
	return nil
}
