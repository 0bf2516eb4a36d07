package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceclient/internal/app/gate"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/settings"
	"github.com/dkeye/voiceclient/internal/testutil"
)

const self domain.UserID = 1

type fakeAPI struct {
	mu sync.Mutex
	// stateGate, when set, holds every UpdateState until it is closed or
	// the request is cancelled.
	stateGate    chan struct{}
	inFlight     int
	cancelled    int
	joinErr      error
	rosterErr    error
	participants []domain.Participant
	joins        []domain.ChannelID
	leaves       []domain.ChannelID
	states       []domain.VoiceState
}

func (a *fakeAPI) Join(_ context.Context, ch domain.ChannelID) (*core.JoinResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins = append(a.joins, ch)
	if a.joinErr != nil {
		return nil, a.joinErr
	}
	return &core.JoinResponse{Status: "ok"}, nil
}

func (a *fakeAPI) Leave(_ context.Context, ch domain.ChannelID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves = append(a.leaves, ch)
	return errors.New("server unavailable")
}

func (a *fakeAPI) UpdateState(ctx context.Context, _ domain.ChannelID, s domain.VoiceState) error {
	a.mu.Lock()
	gate := a.stateGate
	a.inFlight++
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			a.mu.Lock()
			a.cancelled++
			a.mu.Unlock()
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, s)
	return nil
}

func (a *fakeAPI) pushed() []domain.VoiceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.VoiceState(nil), a.states...)
}

func (a *fakeAPI) Participants(context.Context, domain.ChannelID) ([]domain.Participant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participants, a.rosterErr
}

func (a *fakeAPI) counts() (joins, leaves, states int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.joins), len(a.leaves), len(a.states)
}

type sent struct {
	Type    string
	Payload json.RawMessage
}

type fakeSignal struct {
	mu   sync.Mutex
	msgs []sent
}

func (s *fakeSignal) Connected() bool { return true }

func (s *fakeSignal) Send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, sent{Type: msgType, Payload: raw})
	s.mu.Unlock()
	return nil
}

func (s *fakeSignal) ofType(t string) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(context.Context, core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
	hasSDP  bool
	applied []string
	closed  int
}

func (m *fakeMedia) Start(context.Context) error                        { return nil }
func (m *fakeMedia) AddLocalTrack(webrtc.TrackLocal) error              { return nil }
func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit))    { m.onICE = fn }
func (m *fakeMedia) OnTrack(fn func(context.Context, core.RemoteTrack)) { m.onTrack = fn }
func (m *fakeMedia) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	m.onState = fn
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (m *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasSDP = true
	return nil
}

func (m *fakeMedia) AddICECandidate(ci webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSDP {
		return errors.New("no remote description")
	}
	m.applied = append(m.applied, ci.Candidate)
	return nil
}

type fakeStream struct {
	mu      sync.Mutex
	onFrame func([]int16)
	closed  int
}

func (s *fakeStream) Start(fn func([]int16)) error {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) push(pcm []int16) {
	s.mu.Lock()
	fn := s.onFrame
	s.mu.Unlock()
	fn(pcm)
}

type fakeMic struct {
	err    error
	opened int
	stream *fakeStream
}

func (m *fakeMic) Open(core.CaptureConstraints) (core.CaptureStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.opened++
	m.stream = &fakeStream{}
	return m.stream, nil
}

type fakeSink struct {
	mu     sync.Mutex
	volume float64
	closed bool
}

func (s *fakeSink) SetVolume(v float64) { s.mu.Lock(); s.volume = v; s.mu.Unlock() }
func (s *fakeSink) Close() error        { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }

type fakeTrack struct{ stream string }

func (t fakeTrack) ID() string       { return "audio" }
func (t fakeTrack) StreamID() string { return t.stream }
func (t fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("eof")
}

type harness struct {
	c      *Controller
	api    *fakeAPI
	signal *fakeSignal
	mic    *fakeMic
	sched  *testutil.FakeScheduler
	events <-chan Event
	stop   func()

	mu     sync.Mutex
	medias []*fakeMedia
	sinks  map[string]*fakeSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api: &fakeAPI{participants: []domain.Participant{
			{UserID: 2, DisplayName: "ann", JoinedAt: time.Unix(100, 0)},
			{UserID: 3, DisplayName: "bob", JoinedAt: time.Unix(200, 0)},
		}},
		signal: &fakeSignal{},
		mic:    &fakeMic{},
		sched:  testutil.NewFakeScheduler(),
		sinks:  make(map[string]*fakeSink),
	}
	g := gate.New(h.mic, nil, nil, gate.Options{AnalysisWindow: 4})
	h.c = New(Config{
		Self:   self,
		API:    h.api,
		Signal: h.signal,
		Gate:   g,
		NewMedia: func() (core.MediaConnection, error) {
			m := &fakeMedia{}
			h.mu.Lock()
			h.medias = append(h.medias, m)
			h.mu.Unlock()
			return m, nil
		},
		NewSink: func(_ domain.UserID, tr core.RemoteTrack) (core.Sink, error) {
			s := &fakeSink{}
			h.mu.Lock()
			h.sinks[tr.StreamID()] = s
			h.mu.Unlock()
			return s, nil
		},
		Settings:  settings.Defaults(),
		Capture:   core.CaptureConstraints{SampleRate: 48000, Channels: 1, FrameSamples: 4},
		Scheduler: h.sched,
	})
	var cancelSub func()
	h.events, cancelSub = h.c.Subscribe(256)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = h.c.Run(ctx)
		close(stopped)
	}()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			<-stopped
		})
	}
	t.Cleanup(func() {
		h.stop()
		cancelSub()
	})
	return h
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.exec(context.Background(), func() {}))
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, h.c.exec(context.Background(), func() { h.sched.Advance(d) }))
}

func (h *harness) deliver(t *testing.T, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	h.c.HandleSignal(core.Envelope{Type: msgType, Payload: raw})
	h.sync(t)
}

func (h *harness) media(i int) *fakeMedia {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.medias[i]
}

func (h *harness) state(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.c.State(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) participants(t *testing.T) []domain.Participant {
	t.Helper()
	ps, err := h.c.Participants(context.Background())
	require.NoError(t, err)
	return ps
}

func waitEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestController_JoinScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.Join(ctx, 7))
	assert.Equal(t, domain.PhaseNegotiating, h.state(t).Session.Phase)
	require.Len(t, h.signal.ofType(core.MsgOffer), 1)
	assert.Len(t, h.participants(t), 2)

	h.deliver(t, core.MsgICECandidate, core.ICECandidatePayload{ChannelID: 7, Candidate: "candidate:1"})
	h.deliver(t, core.MsgAnswer, core.SessionDescriptionPayload{ChannelID: 7, SDP: "v=0 answer", Type: "answer"})

	s := h.state(t)
	assert.Equal(t, domain.PhaseConnected, s.Session.Phase)
	require.NotNil(t, s.Session.ChannelID)
	assert.Equal(t, domain.ChannelID(7), *s.Session.ChannelID)
	assert.Equal(t, []string{"candidate:1"}, h.media(0).applied)

	h.deliver(t, core.MsgUserJoinedVoice, core.UserJoinedPayload{
		ChannelID:   7,
		Participant: domain.Participant{UserID: self, DisplayName: "me", JoinedAt: time.Unix(300, 0)},
	})
	ps := h.participants(t)
	require.Len(t, ps, 3)
	assert.Equal(t, self, ps[2].UserID)

	waitEvent(t, h.events, EventJoined)
}

func TestController_JoinSameChannelIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))
	require.NoError(t, h.c.Join(context.Background(), 7))

	joins, _, _ := h.api.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, h.mic.opened)
}

func TestController_JoinOtherChannelLeavesFirst(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))
	require.NoError(t, h.c.Join(context.Background(), 8))

	h.api.mu.Lock()
	assert.Equal(t, []domain.ChannelID{7, 8}, h.api.joins)
	assert.Equal(t, []domain.ChannelID{7}, h.api.leaves)
	h.api.mu.Unlock()
	assert.Equal(t, 1, h.media(0).closed)
	assert.Equal(t, domain.ChannelID(8), *h.state(t).Session.ChannelID)
}

func TestController_JoinRejectsInvalidChannel(t *testing.T) {
	h := newHarness(t)
	err := h.c.Join(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidChannel)
	joins, _, _ := h.api.counts()
	assert.Zero(t, joins)
}

func TestController_PermissionDeniedAbortsBeforeREST(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errors.New("no input device")

	err := h.c.Join(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	joins, leaves, _ := h.api.counts()
	assert.Zero(t, joins)
	assert.Zero(t, leaves)
	assert.Nil(t, h.state(t).Session.ChannelID)
}

func TestController_JoinAPIFailureReleasesCapture(t *testing.T) {
	h := newHarness(t)
	h.api.joinErr = fmt.Errorf("%w: status 403", domain.ErrAPIFailure)

	err := h.c.Join(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrAPIFailure)
	assert.Equal(t, 1, h.mic.stream.closed)
	assert.Nil(t, h.state(t).Session.ChannelID)

	h.mu.Lock()
	assert.Empty(t, h.medias)
	h.mu.Unlock()
}

func TestController_RosterFetchFailureUnwinds(t *testing.T) {
	h := newHarness(t)
	h.api.rosterErr = errors.New("timeout")

	err := h.c.Join(context.Background(), 7)
	require.Error(t, err)
	_, leaves, _ := h.api.counts()
	assert.Equal(t, 1, leaves)
	assert.Equal(t, 1, h.mic.stream.closed)
	assert.Nil(t, h.state(t).Session.ChannelID)
}

func TestController_LeaveTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))

	require.NoError(t, h.c.Leave(ctx), "leave api failure must not surface")
	require.NoError(t, h.c.Leave(ctx))

	_, leaves, _ := h.api.counts()
	assert.Equal(t, 1, leaves)
	assert.Equal(t, 1, h.media(0).closed)
	assert.Equal(t, 1, h.mic.stream.closed)

	s := h.state(t)
	assert.Nil(t, s.Session.ChannelID)
	assert.Equal(t, domain.PhaseClosed, s.Session.Phase)
	assert.Empty(t, h.participants(t))
}

func TestController_LeaveWhenIdle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Leave(context.Background()))
	_, leaves, _ := h.api.counts()
	assert.Zero(t, leaves)
}

func TestController_DeafenImpliesMute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))

	require.NoError(t, h.c.SetDeafened(ctx, true))
	s := h.state(t)
	assert.True(t, s.IsMuted)
	assert.True(t, s.IsDeafened)
	assert.False(t, s.SelfMuted)

	require.NoError(t, h.c.SetDeafened(ctx, false))
	s = h.state(t)
	assert.False(t, s.IsMuted)
	assert.False(t, s.IsDeafened)

	updates := h.signal.ofType(core.MsgVoiceStateUpdate)
	require.Len(t, updates, 2)
	var first core.VoiceStatePayload
	require.NoError(t, json.Unmarshal(updates[0].Payload, &first))
	assert.Equal(t, core.VoiceStatePayload{ChannelID: 7, UserID: self, IsMuted: true, IsDeafened: true}, first)

	assert.Eventually(t, func() bool {
		_, _, states := h.api.counts()
		return states == 2
	}, time.Second, 10*time.Millisecond)
}

func TestController_MuteWhileIdleIsLocalOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.ToggleMute(context.Background()))
	assert.True(t, h.state(t).IsMuted)
	assert.Empty(t, h.signal.ofType(core.MsgVoiceStateUpdate))
}

func TestController_DeafenSilencesSinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))
	require.NoError(t, h.c.SetUserVolume(2, 1.5))

	h.media(0).onTrack(ctx, fakeTrack{stream: "2"})
	h.sync(t)
	h.mu.Lock()
	sink := h.sinks["2"]
	h.mu.Unlock()
	require.NotNil(t, sink)
	assert.Equal(t, 1.5, sink.volume)

	require.NoError(t, h.c.SetDeafened(ctx, true))
	assert.Equal(t, 0.0, sink.volume)
	require.NoError(t, h.c.SetDeafened(ctx, false))
	assert.Equal(t, 1.5, sink.volume)

	h.deliver(t, core.MsgUserLeftVoice, core.UserLeftPayload{ChannelID: 7, UserID: 2})
	assert.True(t, sink.closed)
}

func TestController_SpeakingBroadcastOnFlipsOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))

	loud := []int16{16000, -16000, 16000, -16000}
	quiet := []int16{0, 0, 0, 0}

	h.mic.stream.push(loud)
	h.sync(t)
	h.mic.stream.push(loud)
	h.sync(t)
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 1)
	assert.Equal(t, gate.TrackStateOpen, h.c.gate.State())

	h.mic.stream.push(quiet)
	h.sync(t)
	h.advance(t, 300*time.Millisecond)
	assert.Equal(t, gate.TrackStateClosed, h.c.gate.State())
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 1)

	h.advance(t, 200*time.Millisecond)
	msgs := h.signal.ofType(core.MsgSpeakingUpdate)
	require.Len(t, msgs, 2)
	var p core.SpeakingPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &p))
	assert.Equal(t, core.SpeakingPayload{ChannelID: 7, IsSpeaking: false}, p)

	h.advance(t, time.Second)
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 2)
}

func TestController_PushToTalk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := settings.Defaults()
	s.ActivationMode = domain.ModePushToTalk
	h.c.ApplySettings(s)
	require.NoError(t, h.c.Join(ctx, 7))

	require.NoError(t, h.c.SetPushToTalk(ctx, true))
	require.NoError(t, h.c.SetPushToTalk(ctx, true))
	st := h.state(t)
	assert.True(t, st.Activation.PushToTalkActive)
	assert.True(t, st.TrackOpen)

	require.NoError(t, h.c.SetPushToTalk(ctx, false))
	assert.False(t, h.state(t).Activation.PushToTalkActive)
	h.advance(t, 500*time.Millisecond)
	st = h.state(t)
	assert.False(t, st.TrackOpen)
	assert.False(t, st.IsSpeaking)
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 2)
}

func TestController_LocalUserLeftTearsDownWithoutREST(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))

	h.deliver(t, core.MsgUserLeftVoice, core.UserLeftPayload{ChannelID: 7, UserID: self})

	_, leaves, _ := h.api.counts()
	assert.Zero(t, leaves)
	assert.Nil(t, h.state(t).Session.ChannelID)
	assert.Equal(t, 1, h.media(0).closed)
	waitEvent(t, h.events, EventLeft)
}

func TestController_RosterEventOrdering(t *testing.T) {
	h := newHarness(t)
	h.api.participants = nil
	require.NoError(t, h.c.Join(context.Background(), 7))

	h.deliver(t, core.MsgSpeakingUpdate, core.SpeakingPayload{ChannelID: 7, UserID: 9, IsSpeaking: true})
	h.deliver(t, core.MsgUserJoinedVoice, core.UserJoinedPayload{ChannelID: 7, Participant: domain.Participant{UserID: 9}})
	ps := h.participants(t)
	require.Len(t, ps, 1)
	assert.False(t, ps[0].IsSpeaking)

	h.deliver(t, core.MsgVoiceStateUpdate, core.VoiceStatePayload{ChannelID: 7, UserID: 9, IsMuted: true})
	h.deliver(t, core.MsgUserJoinedVoice, core.UserJoinedPayload{ChannelID: 7, Participant: domain.Participant{UserID: 9}})
	ps = h.participants(t)
	require.Len(t, ps, 1)
	assert.True(t, ps[0].IsMuted, "duplicate join must not clobber state")

	h.deliver(t, core.MsgUserJoinedVoice, core.UserJoinedPayload{ChannelID: 8, Participant: domain.Participant{UserID: 10}})
	assert.Len(t, h.participants(t), 1)

	h.deliver(t, core.MsgUserLeftVoice, core.UserLeftPayload{ChannelID: 7, UserID: 9})
	assert.Empty(t, h.participants(t))
}

func TestController_AnswerTimeoutSurfacesConnectionError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))

	h.advance(t, 15*time.Second)
	ev := waitEvent(t, h.events, EventConnectionError)
	assert.Equal(t, domain.ChannelID(7), ev.Payload.(connectionError).ChannelID)

	s := h.state(t)
	assert.Equal(t, domain.PhaseClosed, s.Session.Phase)
	require.NotNil(t, s.Session.ChannelID)
	assert.Equal(t, 1, h.media(0).closed)
	assert.Equal(t, 1, h.mic.stream.closed)

	require.NoError(t, h.c.Join(ctx, 7))
	assert.Equal(t, domain.PhaseNegotiating, h.state(t).Session.Phase)
	h.mu.Lock()
	assert.Len(t, h.medias, 2)
	h.mu.Unlock()
}

func TestController_TransportFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))
	h.deliver(t, core.MsgAnswer, core.SessionDescriptionPayload{ChannelID: 7, SDP: "v=0", Type: "answer"})

	h.media(0).onState(webrtc.PeerConnectionStateConnected)
	h.sync(t)
	ev := waitEvent(t, h.events, EventConnection)
	assert.True(t, ev.Payload.(connectionEvent).Connected)

	h.media(0).onState(webrtc.PeerConnectionStateFailed)
	h.sync(t)
	waitEvent(t, h.events, EventConnectionError)
	assert.Equal(t, domain.PhaseClosed, h.state(t).Session.Phase)
	assert.Len(t, h.signal.ofType(core.MsgConnectionStatus), 2)
}

func TestController_VolumePersistsAcrossSessions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.SetUserVolume(5, 1.5))
	assert.Equal(t, 1.5, h.c.UserVolume(5))

	require.NoError(t, h.c.Join(context.Background(), 7))
	require.NoError(t, h.c.Leave(context.Background()))
	assert.Equal(t, 1.5, h.c.UserVolume(5))

	require.NoError(t, h.c.ResetUserVolume(5))
	assert.Equal(t, 1.0, h.c.UserVolume(5))
}

func TestController_ShutdownLeaves(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background(), 7))

	h.stop()
	_, leaves, _ := h.api.counts()
	assert.Equal(t, 1, leaves)
	assert.Equal(t, 1, h.media(0).closed)

	assert.ErrorIs(t, h.c.Join(context.Background(), 8), domain.ErrClosed)
	for range h.events {
	}
}

func TestController_DeafenedUserNeverAnnouncesSpeaking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))
	h.deliver(t, core.MsgUserJoinedVoice, core.UserJoinedPayload{
		ChannelID:   7,
		Participant: domain.Participant{UserID: self, JoinedAt: time.Unix(300, 0)},
	})
	require.NoError(t, h.c.SetDeafened(ctx, true))

	loud := []int16{16000, -16000, 16000, -16000}
	h.mic.stream.push(loud)
	h.sync(t)
	h.mic.stream.push(loud)
	h.sync(t)

	s := h.state(t)
	assert.False(t, s.IsSpeaking)
	assert.False(t, s.TrackOpen)
	assert.Empty(t, h.signal.ofType(core.MsgSpeakingUpdate))
	ps := h.participants(t)
	require.Len(t, ps, 3)
	require.Equal(t, self, ps[2].UserID)
	assert.False(t, ps[2].IsSpeaking)

	require.NoError(t, h.c.SetDeafened(ctx, false))
	msgs := h.signal.ofType(core.MsgSpeakingUpdate)
	require.Len(t, msgs, 1, "undeafen re-announces the current decision")
	var p core.SpeakingPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &p))
	assert.True(t, p.IsSpeaking)
	assert.True(t, h.state(t).IsSpeaking)
}

func TestController_MuteWhileSpeakingAnnouncesStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))

	loud := []int16{16000, -16000, 16000, -16000}
	h.mic.stream.push(loud)
	h.sync(t)
	require.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 1)

	require.NoError(t, h.c.SetMuted(ctx, true))
	msgs := h.signal.ofType(core.MsgSpeakingUpdate)
	require.Len(t, msgs, 2)
	var p core.SpeakingPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &p))
	assert.False(t, p.IsSpeaking)

	h.mic.stream.push(loud)
	h.sync(t)
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 2)

	require.NoError(t, h.c.SetMuted(ctx, false))
	assert.Len(t, h.signal.ofType(core.MsgSpeakingUpdate), 3)
}

func TestController_StatePushesKeepOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.Join(ctx, 7))

	require.NoError(t, h.c.SetMuted(ctx, true))
	require.NoError(t, h.c.SetMuted(ctx, false))
	require.NoError(t, h.c.SetMuted(ctx, true))

	assert.Eventually(t, func() bool { return len(h.api.pushed()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.VoiceState{{IsMuted: true}, {}, {IsMuted: true}}, h.api.pushed())
}

func TestController_LeaveDropsPendingStatePushes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.stateGate = make(chan struct{})
	require.NoError(t, h.c.Join(ctx, 7))

	require.NoError(t, h.c.SetMuted(ctx, true))
	require.NoError(t, h.c.SetMuted(ctx, false))
	assert.Eventually(t, func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return h.api.inFlight == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, h.c.Leave(ctx))
	h.api.mu.Lock()
	assert.Equal(t, 1, h.api.cancelled)
	h.api.mu.Unlock()

	close(h.api.stateGate)
	assert.Never(t, func() bool { return len(h.api.pushed()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	h.api.mu.Lock()
	assert.Equal(t, 1, h.api.inFlight, "queued push must not run after leave")
	h.api.mu.Unlock()
}

func TestController_SnapshotCarriesHotkey(t *testing.T) {
	h := newHarness(t)
	s := h.state(t)
	assert.Equal(t, "Space", s.PushToTalkKey)
	assert.True(t, s.SignalingConnected)

	require.NoError(t, h.c.ToggleDeafen(context.Background()))
	assert.True(t, h.state(t).IsDeafened)
}
