package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

const pushQueueSize = 32

type statePush struct {
	gen     uint64
	channel domain.ChannelID
	state   domain.VoiceState
}

// statePusher sends REST state updates one at a time, in the order they were
// queued. flush drops everything queued so far and waits out the request in
// flight, so nothing reaches the server after a leave.
type statePusher struct {
	api     core.VoiceAPI
	timeout time.Duration
	queue   chan statePush

	busy sync.Mutex // held while a request runs

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func newStatePusher(api core.VoiceAPI, timeout time.Duration) *statePusher {
	return &statePusher{
		api:     api,
		timeout: timeout,
		queue:   make(chan statePush, pushQueueSize),
	}
}

func (p *statePusher) push(channel domain.ChannelID, state domain.VoiceState) {
	p.mu.Lock()
	u := statePush{gen: p.gen, channel: channel, state: state}
	p.mu.Unlock()
	select {
	case p.queue <- u:
	default:
		log.Warn().Str("module", "voice").Int64("channel_id", int64(channel)).Msg("state push queue full, update dropped")
	}
}

func (p *statePusher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-p.queue:
			p.send(ctx, u)
		}
	}
}

func (p *statePusher) send(ctx context.Context, u statePush) {
	p.busy.Lock()
	defer p.busy.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.mu.Lock()
	if u.gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	err := p.api.UpdateState(reqCtx, u.channel, u.state)

	p.mu.Lock()
	p.cancel = nil
	p.mu.Unlock()
	if err != nil && !errors.Is(reqCtx.Err(), context.Canceled) {
		log.Error().Err(err).Str("module", "voice").Int64("channel_id", int64(u.channel)).Msg("state push failed")
	}
}

// flush invalidates queued pushes and cancels the one in flight.
func (p *statePusher) flush() {
	p.mu.Lock()
	p.gen++
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// wait for the request in flight to return
	p.busy.Lock()
	p.busy.Unlock()
}
