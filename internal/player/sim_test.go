package player

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/playback"
)

type statusLog struct {
	mu  sync.Mutex
	got []playback.Status
}

func (l *statusLog) record(st playback.Status) {
	l.mu.Lock()
	l.got = append(l.got, st)
	l.mu.Unlock()
}

func (l *statusLog) all() []playback.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]playback.Status(nil), l.got...)
}

func newSim(t *testing.T, opts Options) (*Sim, *clock.Mock, *statusLog) {
	t.Helper()
	mock := clock.NewMock()
	opts.Clock = mock
	s := New(opts)
	t.Cleanup(s.Close)
	log := &statusLog{}
	s.OnStatus(log.record)
	return s, mock, log
}

func (l *statusLog) waitFor(t *testing.T, want ...playback.Status) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, l.all())
	}, time.Second, 5*time.Millisecond, "want %v", want)
}

func TestSim_RequiresMedia(t *testing.T) {
	s, _, _ := newSim(t, Options{})

	assert.ErrorIs(t, s.Play(), ErrNoMedia)
	assert.ErrorIs(t, s.Pause(), ErrNoMedia)
	assert.ErrorIs(t, s.SeekTo(3), ErrNoMedia)
	assert.Equal(t, playback.StatusUnstarted, s.Status())
}

func TestSim_LoadCues(t *testing.T) {
	s, _, log := newSim(t, Options{})

	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))

	assert.Equal(t, playback.StatusCued, s.Status())
	log.waitFor(t, playback.StatusCued)
	ref, ok := s.Media()
	require.True(t, ok)
	assert.Equal(t, "abc123", ref.VideoID)
}

func TestSim_LoadRejectsInvalidReference(t *testing.T) {
	s, _, _ := newSim(t, Options{})

	err := s.Load(media.Reference{Kind: media.KindPlaylist, VideoID: "abc"})
	assert.Error(t, err)
	_, ok := s.Media()
	assert.False(t, ok)
}

func TestSim_PlayAdvancesWithClock(t *testing.T) {
	s, mock, log := newSim(t, Options{})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))

	require.NoError(t, s.Play())
	mock.Add(3 * time.Second)
	assert.InDelta(t, 3.0, s.Position(), 1e-9)

	require.NoError(t, s.Pause())
	mock.Add(10 * time.Second)
	assert.InDelta(t, 3.0, s.Position(), 1e-9)

	log.waitFor(t,
		playback.StatusCued,
		playback.StatusBuffering,
		playback.StatusPlaying,
		playback.StatusPaused,
	)
}

func TestSim_RepeatedCallsAreQuiet(t *testing.T) {
	s, _, log := newSim(t, Options{})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))
	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())

	log.waitFor(t, playback.StatusCued, playback.StatusPaused)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.all(), 2)
}

func TestSim_SeekWhilePlayingRebuffers(t *testing.T) {
	s, mock, log := newSim(t, Options{})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))
	require.NoError(t, s.Play())

	require.NoError(t, s.SeekTo(60))
	mock.Add(time.Second)

	assert.InDelta(t, 61.0, s.Position(), 1e-9)
	log.waitFor(t,
		playback.StatusCued,
		playback.StatusBuffering,
		playback.StatusPlaying,
		playback.StatusBuffering,
		playback.StatusPlaying,
	)
}

func TestSim_SeekWhilePausedIsSilent(t *testing.T) {
	s, _, log := newSim(t, Options{})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))
	require.NoError(t, s.Pause())
	log.waitFor(t, playback.StatusCued, playback.StatusPaused)

	require.NoError(t, s.SeekTo(42))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.all(), 2)
	assert.InDelta(t, 42.0, s.Position(), 1e-9)
	assert.Equal(t, playback.StatusPaused, s.Status())
}

func TestSim_NotifyDelay(t *testing.T) {
	s, mock, log := newSim(t, Options{NotifyDelay: 800 * time.Millisecond})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))
	mock.Add(800 * time.Millisecond)
	log.waitFor(t, playback.StatusCued)

	require.NoError(t, s.Play())
	mock.Add(400 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.all(), 1)

	mock.Add(400 * time.Millisecond)
	log.waitFor(t, playback.StatusCued, playback.StatusBuffering, playback.StatusPlaying)
}

func TestSim_LoadCancelsPendingNotifications(t *testing.T) {
	s, mock, log := newSim(t, Options{NotifyDelay: time.Second})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))
	mock.Add(time.Second)
	log.waitFor(t, playback.StatusCued)

	require.NoError(t, s.Play())
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "def456"}))
	mock.Add(time.Second)

	log.waitFor(t, playback.StatusCued, playback.StatusCued)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.all(), 2)
}

func TestSim_CloseStopsDelivery(t *testing.T) {
	s, mock, log := newSim(t, Options{NotifyDelay: time.Second})
	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "abc123"}))

	s.Close()
	mock.Add(time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.all())
}

func TestSim_UnavailableMediaReportsError(t *testing.T) {
	s, _, log := newSim(t, Options{Unavailable: []string{"gone", "PLprivate"}})
	var codes []int
	s.OnError(func(code int) { codes = append(codes, code) })

	require.NoError(t, s.Load(media.Reference{Kind: media.KindVideo, VideoID: "gone"}))
	require.NoError(t, s.Load(media.Reference{Kind: media.KindPlaylist, PlaylistID: "PLprivate"}))

	assert.Equal(t, []int{ErrCodeNotEmbedable, ErrCodeNotFound}, codes)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.all())
	assert.Equal(t, playback.StatusUnstarted, s.Status())
}
