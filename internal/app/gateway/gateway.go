package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// Params collects the gateway's dependencies.
type Params struct {
	Bus         ports.MessageBus
	Broadcaster ports.Broadcaster
	Mode        *domain.ModeCell
	Obs         ports.Observability
	ValveTopic  string
	ModeTopic   string
}

// Gateway validates viewer-issued control requests and relays them to the
// device. It keeps no valve state of its own: the device is the source of
// truth and the gateway only reports the just-issued command's target state.
// Both operations are idempotent at the protocol level.
type Gateway struct {
	bus        ports.MessageBus
	bc         ports.Broadcaster
	mode       *domain.ModeCell
	obs        ports.Observability
	valveTopic string
	modeTopic  string
}

func New(p Params) *Gateway {
	return &Gateway{
		bus:        p.Bus,
		bc:         p.Broadcaster,
		mode:       p.Mode,
		obs:        p.Obs,
		valveTopic: p.ValveTopic,
		modeTopic:  p.ModeTopic,
	}
}

// SetValve relays an "on"/"off" command to the device. Opening the valve is
// refused while the occupancy mode is absent. Nothing is broadcast and no
// state changes when the publish fails.
func (g *Gateway) SetValve(ctx context.Context, command string) (bool, error) {
	var open bool
	switch command {
	case "on":
		open = true
	case "off":
		open = false
	default:
		return false, domain.Validationf("invalid command %q: use \"on\" or \"off\"", command)
	}

	if open && g.mode.Get() == domain.ModeAbsent {
		return false, domain.ErrValveLocked
	}

	payload, err := json.Marshal(struct {
		Electrovalve bool `json:"electrovalve"`
	}{Electrovalve: open})
	if err != nil {
		return false, err
	}

	if err := g.bus.Publish(ctx, g.valveTopic, payload); err != nil {
		return false, fmt.Errorf("publish valve command: %w", err)
	}

	g.obs.IncCounter("relay_commands_published_total", 1)
	g.obs.LogInfo("valve command relayed", ports.Field{Key: "electrovalve", Value: open})
	g.bc.Broadcast(domain.ValveCommand(open))
	return open, nil
}

// SetMode relays an occupancy mode change to the device topic and broadcasts
// the change. The shared cell is updated before the publish so the broker's
// echo of the message reads as already applied on the device path; a failed
// publish restores the previous value.
func (g *Gateway) SetMode(ctx context.Context, mode string) (domain.Mode, error) {
	m, err := domain.ParseMode(mode)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(struct {
		Mode domain.Mode `json:"mode"`
	}{Mode: m})
	if err != nil {
		return "", err
	}

	prev := g.mode.Set(m)
	if err := g.bus.Publish(ctx, g.modeTopic, payload); err != nil {
		g.mode.Set(prev)
		return "", fmt.Errorf("publish mode change: %w", err)
	}

	g.obs.IncCounter("relay_commands_published_total", 1)
	g.obs.LogInfo("occupancy mode updated from viewer", ports.Field{Key: "mode", Value: m})
	g.bc.Broadcast(domain.ModeChange(m))
	return m, nil
}
