// Package roster keeps the participant set of the joined voice channel.
package roster

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/domain"
)

// Roster merges the initial REST snapshot with incremental signaling events.
// Updates for unknown users are ignored: they can race ahead of the join.
type Roster struct {
	mu      sync.RWMutex
	channel domain.ChannelID
	byUser  map[domain.UserID]*domain.Participant
}

func New() *Roster {
	return &Roster{byUser: make(map[domain.UserID]*domain.Participant)}
}

// Seed replaces the collection with the fetched participant list.
func (r *Roster) Seed(channel domain.ChannelID, ps []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = channel
	r.byUser = make(map[domain.UserID]*domain.Participant, len(ps))
	for i := range ps {
		p := ps[i]
		if _, ok := r.byUser[p.UserID]; ok {
			continue
		}
		r.byUser[p.UserID] = &p
	}
	log.Info().Str("module", "roster").Int64("channel_id", int64(channel)).Int("count", len(r.byUser)).Msg("seeded")
}

// Join inserts p unless the user is already tracked. An existing entry keeps
// its locally observed state.
func (r *Roster) Join(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[p.UserID]; ok {
		log.Debug().Str("module", "roster").Int64("user_id", int64(p.UserID)).Msg("duplicate join ignored")
		return false
	}
	r.byUser[p.UserID] = &p
	log.Info().Str("module", "roster").Int64("user_id", int64(p.UserID)).Msg("participant joined")
	return true
}

func (r *Roster) Leave(user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[user]; !ok {
		return false
	}
	delete(r.byUser, user)
	log.Info().Str("module", "roster").Int64("user_id", int64(user)).Msg("participant left")
	return true
}

// UpdateState patches mute and deafen only.
func (r *Roster) UpdateState(user domain.UserID, s domain.VoiceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byUser[user]
	if !ok {
		return false
	}
	p.IsMuted = s.IsMuted
	p.IsDeafened = s.IsDeafened
	return true
}

// UpdateSpeaking patches the speaking flag only.
func (r *Roster) UpdateSpeaking(user domain.UserID, speaking bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byUser[user]
	if !ok {
		return false
	}
	p.IsSpeaking = speaking
	return true
}

// Clear drops every entry on local disconnect.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser = make(map[domain.UserID]*domain.Participant)
	r.channel = 0
}

func (r *Roster) Get(user domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUser[user]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns copies ordered by join time, then user id.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.byUser))
	for _, p := range r.byUser {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
