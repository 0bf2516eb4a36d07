package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/testutil"
)

type schedulerFunc func(d time.Duration, fn func())

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (f schedulerFunc) AfterFunc(d time.Duration, fn func()) core.Timer {
	f(d, fn)
	return noopTimer{}
}

type recorder struct {
	speaking []bool
	track    []bool
}

func newPolicy(t *testing.T, mode domain.ActivationMode) (*Policy, *recorder, *testutil.FakeScheduler) {
	t.Helper()
	sched := testutil.NewFakeScheduler()
	rec := &recorder{}
	p := New(Config{
		Mode:              mode,
		ThresholdDB:       -40,
		SpeakingStopDelay: 500 * time.Millisecond,
		TrackDisableDelay: 300 * time.Millisecond,
	}, sched,
		func(v bool) { rec.speaking = append(rec.speaking, v) },
		func(v bool) { rec.track = append(rec.track, v) },
	)
	return p, rec, sched
}

func TestShouldTransmit(t *testing.T) {
	tests := []struct {
		name string
		mode domain.ActivationMode
		db   float64
		ptt  bool
		want bool
	}{
		{"auto above", domain.ModeAuto, -39.9, false, true},
		{"auto equal is silent", domain.ModeAuto, -40, false, false},
		{"auto below", domain.ModeAuto, -70, true, false},
		{"ptt held", domain.ModePushToTalk, -100, true, true},
		{"ptt released ignores loudness", domain.ModePushToTalk, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTransmit(tt.mode, tt.db, -40, tt.ptt))
		})
	}
}

func TestPolicy_AutoSpeakingFlipsOnceEachWay(t *testing.T) {
	p, rec, sched := newPolicy(t, domain.ModeAuto)

	for range 5 {
		p.Sample(-20)
		sched.Advance(10 * time.Millisecond)
	}
	require.Equal(t, []bool{true}, rec.speaking)
	require.Equal(t, []bool{true}, rec.track)

	for range 100 {
		p.Sample(-80)
		sched.Advance(10 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, false}, rec.speaking)
	assert.Equal(t, []bool{true, false}, rec.track)

	st := p.State()
	assert.False(t, st.IsTransmitting)
	assert.False(t, st.LastSentTransmitting)
	assert.Equal(t, -80.0, st.LastLoudnessDB)
}

func TestPolicy_TrackClosesBeforeSpeakingIndicator(t *testing.T) {
	p, rec, sched := newPolicy(t, domain.ModeAuto)

	p.Sample(-10)
	p.Sample(-90)
	sched.Advance(300 * time.Millisecond)
	assert.False(t, p.TrackActive())
	assert.True(t, p.Speaking())

	sched.Advance(200 * time.Millisecond)
	assert.False(t, p.Speaking())
	assert.Equal(t, []bool{true, false}, rec.speaking)
}

func TestPolicy_ThresholdBoundaryIsSilent(t *testing.T) {
	p, rec, _ := newPolicy(t, domain.ModeAuto)
	p.Sample(-40)
	assert.False(t, p.State().IsTransmitting)
	assert.Empty(t, rec.speaking)
}

func TestPolicy_PushToTalkRepeatedKeyDown(t *testing.T) {
	p, rec, sched := newPolicy(t, domain.ModePushToTalk)

	p.SetPushToTalk(true)
	p.SetPushToTalk(true)
	p.SetPushToTalk(true)
	assert.True(t, p.State().PushToTalkActive)
	assert.Equal(t, []bool{true}, rec.speaking)

	p.SetPushToTalk(false)
	assert.False(t, p.State().PushToTalkActive)
	sched.Advance(time.Second)
	assert.Equal(t, []bool{true, false}, rec.speaking)

	p.SetPushToTalk(false)
	assert.False(t, p.State().PushToTalkActive)
}

func TestPolicy_PushToTalkIgnoresLoudness(t *testing.T) {
	p, rec, _ := newPolicy(t, domain.ModePushToTalk)
	p.Sample(0)
	assert.Empty(t, rec.speaking)
}

func TestPolicy_ThresholdIsClamped(t *testing.T) {
	p, _, _ := newPolicy(t, domain.ModeAuto)
	p.SetThreshold(-90)
	assert.Equal(t, domain.MinThresholdDB, p.State().ThresholdDB)
	p.SetThreshold(12)
	assert.Equal(t, domain.MaxThresholdDB, p.State().ThresholdDB)
}

func TestPolicy_ModeSwitchReevaluates(t *testing.T) {
	p, rec, sched := newPolicy(t, domain.ModeAuto)
	p.Sample(-10)
	require.Equal(t, []bool{true}, rec.speaking)

	p.SetMode(domain.ModePushToTalk)
	sched.Advance(time.Second)
	assert.Equal(t, []bool{true, false}, rec.speaking)
}

func TestPolicy_ResetCancelsTimers(t *testing.T) {
	p, rec, sched := newPolicy(t, domain.ModeAuto)
	p.Sample(-10)
	p.Sample(-90)
	p.Reset()
	sched.Advance(time.Second)

	assert.Equal(t, []bool{true}, rec.speaking)
	assert.False(t, p.Speaking())
	assert.Zero(t, sched.Pending())
}
