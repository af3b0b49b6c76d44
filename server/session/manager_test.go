package session

import (
	"sync"
	"testing"
	"time"

	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateGetDelete(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30}, nil)
	defer m.Shutdown()

	s, err := m.Create()
	require.NoError(t, err)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(s.ID()), ErrNotFound)
}

func TestManagerLimit(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30, MaxSessions: 2}, nil)
	defer m.Shutdown()

	_, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	require.NoError(t, err)

	_, err = m.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.Equal(t, 2, m.Stats().Active)
}

func TestManagerSweep(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30, IdleTTL: time.Minute, SweepEvery: time.Hour}, nil)
	defer m.Shutdown()

	var mu sync.Mutex
	var evicted []string
	m.OnEvict(func(id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
	})

	s, err := m.Create()
	require.NoError(t, err)

	assert.Zero(t, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Sweep(time.Now().Add(2*time.Minute)))
	assert.Zero(t, m.Len())

	mu.Lock()
	assert.Equal(t, []string{s.ID()}, evicted)
	mu.Unlock()
}

func TestManagerSweepDisabled(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30}, nil)
	defer m.Shutdown()

	_, err := m.Create()
	require.NoError(t, err)
	assert.Zero(t, m.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, m.Len())
}

func TestManagerList(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30}, nil)
	defer m.Shutdown()

	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	a.LoadVideo(models.VideoSource{Filename: "a.mp4"})

	views := m.List()
	require.Len(t, views, 2)
	assert.Equal(t, b.ID(), views[0].ID)
	assert.Equal(t, a.ID(), views[1].ID)
}

func TestManagerShutdown(t *testing.T) {
	m := NewManager(ManagerConfig{FPS: 30, IdleTTL: time.Minute}, nil)
	s, err := m.Create()
	require.NoError(t, err)
	s.LoadVideo(models.VideoSource{Filename: "a.mp4"})

	m.Shutdown()
	m.Shutdown()

	assert.Zero(t, m.Len())
	_, err = s.UpdatePlayback(1)
	assert.ErrorIs(t, err, ErrNoVideo)
}
