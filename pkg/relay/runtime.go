// Package relay wires the Compteur components into a runnable service:
// MQTT ingestion, Timescale persistence, flow derivation, WebSocket fan-out
// and the viewer-facing HTTP API.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Apsharan/Compteur/internal/adapters/mqttbus"
	"github.com/Apsharan/Compteur/internal/adapters/observability"
	"github.com/Apsharan/Compteur/internal/adapters/timescale"
	"github.com/Apsharan/Compteur/internal/adapters/wshub"
	"github.com/Apsharan/Compteur/internal/app/config"
	"github.com/Apsharan/Compteur/internal/app/flow"
	"github.com/Apsharan/Compteur/internal/app/gateway"
	"github.com/Apsharan/Compteur/internal/app/httpapi"
	"github.com/Apsharan/Compteur/internal/app/ingest"
	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// LoadConfig re-exports config loading for embedders and the CLI.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// Runtime owns the assembled relay and its adapter lifecycles.
type Runtime struct {
	cfg      *config.Config
	obs      ports.Observability
	store    ports.TelemetryStore
	bus      ports.MessageBus
	bc       ports.Broadcaster
	pipeline *ingest.Pipeline
	api      *httpapi.Server
	closers  []func()
}

// New bootstraps the default adapters (MQTT bus, Timescale store, WebSocket
// hub, slog+Prometheus observability). Options override any dependency so
// the relay can be embedded with custom transports or stores.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var ov overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}

	rt := &Runtime{cfg: cfg}

	rt.obs = ov.observability
	if rt.obs == nil {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		rt.obs = observability.New(logger, nil)
	}

	rt.store = ov.store
	if rt.store == nil {
		db, err := sql.Open("postgres", cfg.Storage.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Storage.QueryTimeout.Std())
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ping store: %w", err)
		}
		rt.store = timescale.New(db, cfg.Storage.Table)
		rt.closers = append(rt.closers, func() { db.Close() })
	}

	rt.bus = ov.bus
	if rt.bus == nil {
		bus, err := mqttbus.Connect(mqttbus.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			PublishTimeout: cfg.MQTT.PublishTimeout.Std(),
		})
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.bus = bus
		rt.closers = append(rt.closers, bus.Close)
	}

	rt.bc = ov.broadcaster
	if rt.bc == nil {
		hub := wshub.New(rt.obs)
		rt.bc = hub
		rt.closers = append(rt.closers, hub.Shutdown)
	}

	loc, err := time.LoadLocation(cfg.HTTP.Timezone)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("load timezone %q: %w", cfg.HTTP.Timezone, err)
	}

	mode := domain.NewModeCell()

	rt.pipeline = ingest.New(ingest.Params{
		Store:        rt.store,
		Broadcaster:  rt.bc,
		Mode:         mode,
		Obs:          rt.obs,
		DataTopic:    cfg.MQTT.DataTopic,
		ModeTopic:    cfg.MQTT.ModeTopic,
		FlushTimeout: cfg.Storage.QueryTimeout.Std(),
	})

	estimator := flow.New(flow.Params{
		Store:       rt.store,
		Broadcaster: rt.bc,
		Obs:         rt.obs,
		Window:      cfg.Flow.Window.Std(),
		Bucket:      cfg.Flow.Bucket.Std(),
		Calibration: cfg.Flow.Calibration,
	})

	gw := gateway.New(gateway.Params{
		Bus:         rt.bus,
		Broadcaster: rt.bc,
		Mode:        mode,
		Obs:         rt.obs,
		ValveTopic:  cfg.MQTT.ValveTopic,
		ModeTopic:   cfg.MQTT.ModeTopic,
	})

	rt.api = httpapi.New(httpapi.Params{
		Store:        rt.store,
		Flow:         estimator,
		Gateway:      gw,
		Obs:          rt.obs,
		ViewerSocket: viewerSocket(rt.bc),
		APIKey:       cfg.HTTP.APIKey,
		QueryTimeout: cfg.Storage.QueryTimeout.Std(),
		Location:     loc,
	})

	return rt, nil
}

// Run subscribes to the device topics and serves the API and metrics
// listeners until ctx is cancelled or a listener fails.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.close()

	for _, topic := range []string{r.cfg.MQTT.DataTopic, r.cfg.MQTT.ModeTopic} {
		if err := r.bus.Subscribe(topic, r.pipeline.HandleMessage); err != nil {
			return err
		}
		r.obs.LogInfo("subscribed", ports.Field{Key: "topic", Value: topic})
	}

	apiSrv := &http.Server{Addr: r.cfg.HTTP.Addr, Handler: r.api.Handler()}
	metricsSrv := &http.Server{Addr: r.cfg.Metrics.Addr, Handler: promhttp.Handler()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.obs.LogInfo("api listening", ports.Field{Key: "addr", Value: apiSrv.Addr})
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		r.obs.LogInfo("metrics listening", ports.Field{Key: "addr", Value: metricsSrv.Addr})
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		apiSrv.Shutdown(shutdownCtx)
		metricsSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
