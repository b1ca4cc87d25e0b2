package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lodomo/EscapeWright/internal/api"
	"github.com/lodomo/EscapeWright/internal/clock"
	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/fleet"
	"github.com/lodomo/EscapeWright/internal/metrics"
	"github.com/lodomo/EscapeWright/internal/mqtt"
	"github.com/lodomo/EscapeWright/internal/room"
	"github.com/lodomo/EscapeWright/internal/store"
	"github.com/lodomo/EscapeWright/internal/store/factory"
	"github.com/lodomo/EscapeWright/internal/transmit"
	"github.com/lodomo/EscapeWright/internal/version"
)

func run(parent context.Context, opts options) error {
	cfg := opts.room
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	events.Info("system.startup", "control starting", map[string]interface{}{
		"service":  "control",
		"version":  version.Version,
		"room":     cfg.Room.ID,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Printf("metrics: register failed: %v", err)
	}

	st, err := factory.Open(ctx, cfg.Store, cfg.Room.ID)
	if err != nil {
		log.Fatalf("store unavailable: %v", err)
	}
	defer st.Close()
	if el, ok := factory.EventLog(st); ok {
		events.SetSink(el)
		defer events.SetSink(nil)
	}

	var client *mqtt.Client
	if cfg.MQTT.Enabled() {
		creds, err := cfg.MQTT.Credentials()
		if err != nil {
			log.Fatalf("mqtt credentials: %v", err)
		}
		client = mqtt.NewClient(cfg.MQTT.URL, clientID(cfg.MQTT.ClientID, "escapewright-control-"+cfg.Room.ID),
			mqtt.WithCredentials(creds.Username, creds.Password))
	}
	prefix := cfg.MQTT.Prefix(cfg.Room.ID)

	// Relays need the node's own answer, which a broker ack cannot give, so
	// they only go over HTTP.
	tx := transmit.New(transmit.NewHTTPSender(""),
		transmit.WithSource("control"),
		transmit.WithAttempts(cfg.Transmit.Attempts),
		transmit.WithTimeout(cfg.Transmit.Timeout.Or(transmit.DefaultTimeout)),
		transmit.WithInterval(cfg.Transmit.Interval.Or(transmit.DefaultInterval)),
	)

	clk := clock.New(st, store.Key(cfg.Room.ID, "clock"), cfg.LengthMinutes())
	ctrl, err := fleet.NewController(st, cfg.Room.ID, nodeSpecs(cfg), tx,
		fleet.WithStatusTimeout(cfg.Fleet.StatusTimeout.Or(fleet.DefaultStatusTimeout)),
		fleet.WithParallelism(cfg.Fleet.Parallelism),
	)
	if err != nil {
		return err
	}
	if opts.fresh {
		if err := clk.Init(ctx); err != nil {
			log.Fatalf("store unavailable: %v", err)
		}
	}
	if err := ctrl.Init(ctx, opts.fresh); err != nil {
		log.Fatalf("store unavailable: %v", err)
	}

	svc := room.New(cfg.Room.ID, clk, ctrl)
	srv := api.NewServer(svc, ctrl)
	if el, ok := factory.EventLog(st); ok {
		srv.SetEventLog(el)
	}
	srv.AddCheck("store", func(ctx context.Context) error {
		_, err := st.Get(ctx, clk.Key())
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}, false)

	if client != nil {
		l := mqtt.NewListener(client)
		l.Handle(mqtt.TriggerFilter(prefix), func(ctx context.Context, source, payload string) {
			if err := svc.Trigger(ctx, payload); err != nil {
				log.Printf("mqtt: trigger from %s: %v", source, err)
			}
		})
		l.Handle(mqtt.StatusFilter(prefix), func(ctx context.Context, name, payload string) {
			if err := svc.UpdateStatus(ctx, name, payload); err != nil {
				log.Printf("mqtt: status from %s: %v", name, err)
			}
		})
		client.Start(l)
		defer client.Disconnect()
		srv.AddCheck("mqtt", func(context.Context) error {
			if !client.IsConnected() {
				return fmt.Errorf("not connected to %s", client.URL())
			}
			return nil
		}, true)
	}

	poller := fleet.NewPoller(ctrl, cfg.Fleet.PollInterval.Or(30*time.Second))
	poller.Start(ctx)

	httpSrv := srv.NewHTTPServer(opts.port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("control API for room %s listening on %s", cfg.Room.ID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	poller.Stop()
	ctrl.Wait()
	tx.Wait()
	events.Info("system.shutdown", "control stopping", map[string]interface{}{"room": cfg.Room.ID})
	events.CloseAll()
	return runErr
}

func nodeSpecs(cfg *config.RoomConfig) []fleet.NodeSpec {
	specs := make([]fleet.NodeSpec, 0, len(cfg.Fleet.Nodes))
	for _, n := range cfg.Fleet.Nodes {
		port := n.Port
		if port == 0 {
			port = cfg.NodePort()
		}
		specs = append(specs, fleet.NodeSpec{Name: n.Name, IP: n.IP, Port: port, Location: n.Location})
	}
	return specs
}

func clientID(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
