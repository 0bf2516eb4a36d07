package mixer

import (
	"errors"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

type fakeTrack struct{ stream string }

func (t fakeTrack) ID() string       { return "audio" }
func (t fakeTrack) StreamID() string { return t.stream }
func (t fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("eof")
}

type fakeSink struct {
	volume float64
	closed int
}

func (s *fakeSink) SetVolume(v float64) { s.volume = v }
func (s *fakeSink) Close() error        { s.closed++; return nil }

type memStore struct {
	table map[domain.UserID]float64
	saves int
}

func (s *memStore) Load() (map[domain.UserID]float64, error) { return s.table, nil }
func (s *memStore) Save(t map[domain.UserID]float64) error {
	s.table = t
	s.saves++
	return nil
}

func newMixer(store VolumeStore) (*Mixer, map[string]*fakeSink) {
	sinks := make(map[string]*fakeSink)
	m := New(func(_ domain.UserID, tr core.RemoteTrack) (core.Sink, error) {
		s := &fakeSink{}
		sinks[tr.StreamID()] = s
		return s, nil
	}, store)
	return m, sinks
}

func TestMixer_UserVolumeRoundTrip(t *testing.T) {
	store := &memStore{}
	m, _ := newMixer(store)

	require.NoError(t, m.SetUserVolume(5, 1.5))
	assert.Equal(t, 1.5, m.UserVolume(5))

	require.NoError(t, m.ResetUserVolume(5))
	assert.Equal(t, 1.0, m.UserVolume(5))
	assert.Equal(t, 2, store.saves)
	assert.Empty(t, store.table)
}

func TestMixer_VolumeIsClamped(t *testing.T) {
	m, _ := newMixer(nil)
	require.NoError(t, m.SetUserVolume(5, 3))
	assert.Equal(t, 2.0, m.UserVolume(5))
	require.NoError(t, m.SetUserVolume(5, -1))
	assert.Equal(t, 0.0, m.UserVolume(5))
}

func TestMixer_LoadsPersistedTable(t *testing.T) {
	m, _ := newMixer(&memStore{table: map[domain.UserID]float64{9: 0.25}})
	assert.Equal(t, 0.25, m.UserVolume(9))
}

func TestMixer_EffectiveVolume(t *testing.T) {
	m, sinks := newMixer(nil)
	m.SetMasterVolume(0.5)
	require.NoError(t, m.SetUserVolume(5, 1.5))
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))
	require.NoError(t, m.Attach(fakeTrack{stream: "6"}))

	assert.Equal(t, 0.75, sinks["5"].volume)
	assert.Equal(t, 0.5, sinks["6"].volume)

	require.NoError(t, m.SetUserVolume(6, 2))
	assert.Equal(t, 1.0, sinks["6"].volume)
}

func TestMixer_DeafenRestoresVolumes(t *testing.T) {
	m, sinks := newMixer(nil)
	require.NoError(t, m.SetUserVolume(5, 1.5))
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))

	m.SetDeafened(true)
	assert.Equal(t, 0.0, sinks["5"].volume)
	assert.Zero(t, sinks["5"].closed, "deafen must not destroy sinks")

	m.SetDeafened(false)
	assert.Equal(t, 1.5, sinks["5"].volume)
}

func TestMixer_AttachWhileDeafenedStaysSilent(t *testing.T) {
	m, sinks := newMixer(nil)
	m.SetDeafened(true)
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))
	assert.Equal(t, 0.0, sinks["5"].volume)
}

func TestMixer_ReattachReplacesSink(t *testing.T) {
	m, sinks := newMixer(nil)
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))
	first := sinks["5"]
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, m.SinkCount())
}

func TestMixer_CleanupKeepsVolumes(t *testing.T) {
	store := &memStore{}
	m, sinks := newMixer(store)
	require.NoError(t, m.SetUserVolume(5, 1.5))
	require.NoError(t, m.Attach(fakeTrack{stream: "5"}))
	require.NoError(t, m.Attach(fakeTrack{stream: "6"}))

	require.NoError(t, m.Cleanup())
	assert.Zero(t, m.SinkCount())
	assert.Equal(t, 1, sinks["5"].closed)
	assert.Equal(t, 1, sinks["6"].closed)
	assert.Equal(t, 1.5, m.UserVolume(5))
	assert.Equal(t, 1, store.saves)
}

func TestMixer_NonNumericStreamGetsDefault(t *testing.T) {
	m, sinks := newMixer(nil)
	require.NoError(t, m.Attach(fakeTrack{stream: "screen"}))
	assert.Equal(t, 1.0, sinks["screen"].volume)
}
