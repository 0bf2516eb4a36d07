// Package device binds capture and playback to the host audio devices
// through miniaudio.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindCapture  Kind = "capture"
	KindPlayback Kind = "playback"
)

type Info struct {
	Kind      Kind   `json:"kind"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Context owns the miniaudio context shared by every device.
type Context struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("module", "device").Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}

// List returns capture devices followed by playback devices.
func (c *Context) List() ([]Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Info
	for _, k := range []Kind{KindCapture, KindPlayback} {
		infos, err := c.ctx.Devices(k.malgoType())
		if err != nil {
			return nil, fmt.Errorf("list %s devices: %w", k, err)
		}
		for _, i := range infos {
			out = append(out, Info{Kind: k, ID: i.ID.String(), Name: i.Name(), IsDefault: i.IsDefault != 0})
		}
	}
	return out, nil
}

// lookup resolves a configured id or name. Empty means the system default.
func (c *Context) lookup(k Kind, id string) (*malgo.DeviceID, error) {
	if id == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	infos, err := c.ctx.Devices(k.malgoType())
	if err != nil {
		return nil, fmt.Errorf("list %s devices: %w", k, err)
	}
	for _, i := range infos {
		if i.ID.String() == id || i.Name() == id {
			devID := i.ID
			return &devID, nil
		}
	}
	return nil, fmt.Errorf("%s device %q not found", k, id)
}

func (k Kind) malgoType() malgo.DeviceType {
	if k == KindCapture {
		return malgo.Capture
	}
	return malgo.Playback
}
