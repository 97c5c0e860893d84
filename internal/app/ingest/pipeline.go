package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// Params collects the pipeline's dependencies.
type Params struct {
	Store        ports.TelemetryStore
	Broadcaster  ports.Broadcaster
	Mode         *domain.ModeCell
	Obs          ports.Observability
	DataTopic    string
	ModeTopic    string
	FlushTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pipeline turns inbound sensor messages into persisted telemetry points and
// live viewer updates. Every failure is contained to the message that caused
// it: the message is logged and dropped, nothing is retried, and processing
// of subsequent messages is unaffected.
type Pipeline struct {
	// mu keeps each append paired with its own flush, so a flush batch
	// holds exactly the caller's point.
	mu sync.Mutex

	store        ports.TelemetryStore
	bc           ports.Broadcaster
	mode         *domain.ModeCell
	obs          ports.Observability
	dataTopic    string
	modeTopic    string
	flushTimeout time.Duration
	now          func() time.Time
}

func New(p Params) *Pipeline {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.FlushTimeout <= 0 {
		p.FlushTimeout = 5 * time.Second
	}
	return &Pipeline{
		store:        p.Store,
		bc:           p.Broadcaster,
		mode:         p.Mode,
		obs:          p.Obs,
		dataTopic:    p.DataTopic,
		modeTopic:    p.ModeTopic,
		flushTimeout: p.FlushTimeout,
		now:          p.Now,
	}
}

// HandleMessage implements ports.MessageHandler. It never reports failure to
// the transport; the channel is fire-and-forget from the device's side.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	switch topic {
	case p.modeTopic:
		p.handleMode(payload)
	case p.dataTopic:
		p.handleReading(payload)
	default:
		p.reject(topic, "unexpected topic", nil)
	}
}

func (p *Pipeline) handleMode(payload []byte) {
	var msg struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &msg); err != nil {
		p.reject(p.modeTopic, "malformed mode message", err)
		return
	}

	mode, err := domain.ParseMode(msg.Mode)
	if err != nil {
		p.reject(p.modeTopic, "invalid mode value", err)
		return
	}

	// Mode changes update the shared cell and are broadcast, so viewers
	// converge on the same mode regardless of which path changed it. Last
	// writer wins. The broker hands the gateway's own mode publish back on
	// this subscription; an unchanged value has already been applied and
	// broadcast, so it stops here.
	if prev := p.mode.Set(mode); prev == mode {
		return
	}
	p.bc.Broadcast(domain.ModeChange(mode))
	p.obs.LogInfo("occupancy mode updated from device", ports.Field{Key: "mode", Value: mode})
}

func (p *Pipeline) handleReading(payload []byte) {
	trimmed := bytes.TrimSpace(payload)

	var reading domain.SensorReading
	if err := json.Unmarshal(trimmed, &reading); err != nil {
		p.reject(p.dataTopic, "malformed sensor message", err)
		return
	}
	if reading.WaterUsed == nil || reading.Electrovalve == nil {
		p.reject(p.dataTopic, "missing data fields", nil)
		return
	}

	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Append(&domain.TelemetryPoint{
		WaterUsed:    *reading.WaterUsed,
		Electrovalve: *reading.Electrovalve,
		Nonce:        now.UnixMilli(),
		Timestamp:    now.UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()

	start := time.Now()
	if err := p.store.Flush(ctx); err != nil {
		p.obs.LogError("store flush failed, dropping reading", err,
			ports.Field{Key: "topic", Value: p.dataTopic})
		return
	}
	p.obs.ObserveLatency("relay_store_flush_seconds", time.Since(start).Seconds())
	p.obs.IncCounter("relay_points_written_total", 1)

	// The broadcast carries the decoded reading verbatim and happens only
	// after the durability boundary.
	p.bc.Broadcast(domain.LiveUpdate(json.RawMessage(trimmed)))
}

func (p *Pipeline) reject(topic, reason string, err error) {
	p.obs.LogWarn("message rejected", err,
		ports.Field{Key: "topic", Value: topic},
		ports.Field{Key: "reason", Value: reason})
	p.obs.IncCounter("relay_messages_rejected_total", 1)
}
