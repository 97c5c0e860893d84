package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apsharan/Compteur/internal/adapters/observability"
	"github.com/Apsharan/Compteur/internal/app/ingest"
	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

type published struct {
	topic   string
	payload string
}

type fakeBus struct {
	published []published
	err       error
}

func (f *fakeBus) Subscribe(string, ports.MessageHandler) error { return nil }
func (f *fakeBus) Close()                                       {}

func (f *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{topic: topic, payload: string(payload)})
	return nil
}

// loopbackBus hands every publish straight back to the subscribed handler,
// the way an MQTT 3.1.1 broker echoes a client's publish to its own matching
// subscription.
type loopbackBus struct {
	fakeBus
	deliver ports.MessageHandler
}

func (l *loopbackBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := l.fakeBus.Publish(ctx, topic, payload); err != nil {
		return err
	}
	l.deliver(topic, payload)
	return nil
}

type nopStore struct{}

func (nopStore) Append(*domain.TelemetryPoint) {}
func (nopStore) Flush(context.Context) error   { return nil }

func (nopStore) Latest(context.Context, time.Duration) (*domain.TelemetryPoint, error) {
	return nil, domain.ErrNoData
}

func (nopStore) UsageSeries(context.Context, time.Duration) ([]domain.UsagePoint, error) {
	return nil, nil
}

type fakeBroadcaster struct {
	events []domain.Event
}

func (f *fakeBroadcaster) Broadcast(e domain.Event) { f.events = append(f.events, e) }

func newGateway(bus *fakeBus, bc *fakeBroadcaster, mode *domain.ModeCell) *Gateway {
	return New(Params{
		Bus:         bus,
		Broadcaster: bc,
		Mode:        mode,
		Obs:         observability.Nop(),
		ValveTopic:  "water-meter/valve",
		ModeTopic:   "water-meter/mode",
	})
}

func TestSetValveOnPublishesAndBroadcasts(t *testing.T) {
	bus := &fakeBus{}
	bc := &fakeBroadcaster{}
	g := newGateway(bus, bc, domain.NewModeCell())

	open, err := g.SetValve(context.Background(), "on")
	require.NoError(t, err)
	assert.True(t, open)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "water-meter/valve", bus.published[0].topic)
	assert.JSONEq(t, `{"electrovalve":true}`, bus.published[0].payload)

	require.Len(t, bc.events, 1)
	assert.Equal(t, domain.EventValveCommand, bc.events[0].Type)
	require.NotNil(t, bc.events[0].Electrovalve)
	assert.True(t, *bc.events[0].Electrovalve)
}

func TestSetValveRejectsUnknownCommand(t *testing.T) {
	bus := &fakeBus{}
	bc := &fakeBroadcaster{}
	g := newGateway(bus, bc, domain.NewModeCell())

	_, err := g.SetValve(context.Background(), "xyz")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, bus.published, "invalid command must not publish")
	assert.Empty(t, bc.events)
}

func TestSetValveOpenLockedInAbsentMode(t *testing.T) {
	bus := &fakeBus{}
	bc := &fakeBroadcaster{}
	mode := domain.NewModeCell()
	mode.Set(domain.ModeAbsent)
	g := newGateway(bus, bc, mode)

	_, err := g.SetValve(context.Background(), "on")
	assert.ErrorIs(t, err, domain.ErrValveLocked)
	assert.Empty(t, bus.published)
	assert.Empty(t, bc.events)

	// Closing the valve stays allowed while absent.
	open, err := g.SetValve(context.Background(), "off")
	require.NoError(t, err)
	assert.False(t, open)
	assert.Len(t, bus.published, 1)
}

func TestSetValvePublishFailurePropagates(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker gone")}
	bc := &fakeBroadcaster{}
	g := newGateway(bus, bc, domain.NewModeCell())

	_, err := g.SetValve(context.Background(), "on")
	require.Error(t, err)
	assert.False(t, domain.IsValidation(err))
	assert.Empty(t, bc.events, "no broadcast on failed publish")
}

func TestSetModeSequenceLastWriterWins(t *testing.T) {
	bus := &fakeBus{}
	bc := &fakeBroadcaster{}
	mode := domain.NewModeCell()
	g := newGateway(bus, bc, mode)

	m, err := g.SetMode(context.Background(), "absent")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAbsent, m)

	m, err = g.SetMode(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, domain.ModePresent, m)

	require.Len(t, bus.published, 2)
	assert.JSONEq(t, `{"mode":"absent"}`, bus.published[0].payload)
	assert.JSONEq(t, `{"mode":"present"}`, bus.published[1].payload)

	require.Len(t, bc.events, 2)
	assert.Equal(t, domain.ModeAbsent, bc.events[0].Mode)
	assert.Equal(t, domain.ModePresent, bc.events[1].Mode)

	assert.Equal(t, domain.ModePresent, mode.Get())
}

func TestSetModeBrokerEchoBroadcastsOnce(t *testing.T) {
	bus := &loopbackBus{}
	bc := &fakeBroadcaster{}
	mode := domain.NewModeCell()

	pipe := ingest.New(ingest.Params{
		Store:       nopStore{},
		Broadcaster: bc,
		Mode:        mode,
		Obs:         observability.Nop(),
		DataTopic:   "water-meter/data",
		ModeTopic:   "water-meter/mode",
	})
	bus.deliver = pipe.HandleMessage

	g := New(Params{
		Bus:         bus,
		Broadcaster: bc,
		Mode:        mode,
		Obs:         observability.Nop(),
		ValveTopic:  "water-meter/valve",
		ModeTopic:   "water-meter/mode",
	})

	m, err := g.SetMode(context.Background(), "absent")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAbsent, m)
	assert.Equal(t, domain.ModeAbsent, mode.Get())

	// The echoed publish must not produce a second mode_change.
	require.Len(t, bc.events, 1)
	assert.Equal(t, domain.EventModeChange, bc.events[0].Type)
	assert.Equal(t, domain.ModeAbsent, bc.events[0].Mode)

	_, err = g.SetMode(context.Background(), "present")
	require.NoError(t, err)
	require.Len(t, bc.events, 2)
	assert.Equal(t, domain.ModePresent, bc.events[1].Mode)
}

func TestSetModeRejectsUnknownValue(t *testing.T) {
	bus := &fakeBus{}
	g := newGateway(bus, &fakeBroadcaster{}, domain.NewModeCell())

	_, err := g.SetMode(context.Background(), "away")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, bus.published)
}

func TestSetModePublishFailureLeavesCellUntouched(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker gone")}
	bc := &fakeBroadcaster{}
	mode := domain.NewModeCell()
	g := newGateway(bus, bc, mode)

	_, err := g.SetMode(context.Background(), "absent")
	require.Error(t, err)
	assert.Equal(t, domain.ModePresent, mode.Get())
	assert.Empty(t, bc.events)
}
