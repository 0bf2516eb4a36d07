// Package api is the resty client for the chat backend's voice endpoints.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

type Client struct {
	http *resty.Client
}

type channelRequest struct {
	ChannelID domain.ChannelID `json:"channel_id"`
}

type stateRequest struct {
	ChannelID  domain.ChannelID `json:"channel_id"`
	IsMuted    bool             `json:"is_muted"`
	IsDeafened bool             `json:"is_deafened"`
}

type participantsResponse struct {
	Participants []domain.Participant `json:"participants"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// New builds a client authenticated with a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		r.SetAuthToken(token)
	}
	return &Client{http: r}
}

var _ core.VoiceAPI = (*Client)(nil)

func (c *Client) Join(ctx context.Context, channel domain.ChannelID) (*core.JoinResponse, error) {
	out := &core.JoinResponse{}
	if err := c.do(ctx, "join", c.http.R().
		SetBody(channelRequest{ChannelID: channel}).
		SetResult(out), resty.MethodPost, "/voice/join"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Leave(ctx context.Context, channel domain.ChannelID) error {
	return c.do(ctx, "leave", c.http.R().SetBody(channelRequest{ChannelID: channel}), resty.MethodPost, "/voice/leave")
}

func (c *Client) UpdateState(ctx context.Context, channel domain.ChannelID, s domain.VoiceState) error {
	return c.do(ctx, "state", c.http.R().SetBody(stateRequest{
		ChannelID:  channel,
		IsMuted:    s.IsMuted,
		IsDeafened: s.IsDeafened,
	}), resty.MethodPost, "/voice/state")
}

func (c *Client) Participants(ctx context.Context, channel domain.ChannelID) ([]domain.Participant, error) {
	out := &participantsResponse{}
	if err := c.do(ctx, "participants", c.http.R().
		SetQueryParam("channel_id", channel.String()).
		SetResult(out), resty.MethodGet, "/voice/participants"); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

// do executes req and maps transport errors and non-2xx responses to
// domain.ErrAPIFailure.
func (c *Client) do(ctx context.Context, op string, req *resty.Request, method, path string) error {
	apiErr := &errorResponse{}
	resp, err := req.SetContext(ctx).SetError(apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrAPIFailure, op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrAPIFailure, op, resp.StatusCode(), apiErr.text())
	}
	log.Debug().Str("module", "api").Str("op", op).Int("status", resp.StatusCode()).Dur("took", resp.Time()).Msg("request done")
	return nil
}
