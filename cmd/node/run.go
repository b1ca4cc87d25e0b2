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

	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/metrics"
	"github.com/lodomo/EscapeWright/internal/mqtt"
	"github.com/lodomo/EscapeWright/internal/nodeapi"
	"github.com/lodomo/EscapeWright/internal/role"
	"github.com/lodomo/EscapeWright/internal/role/roles"
	"github.com/lodomo/EscapeWright/internal/transmit"
	"github.com/lodomo/EscapeWright/internal/version"
)

// errFatal is returned after the role refused to stop; the exit code tells
// the supervisor to restart the node.
var errFatal = errors.New("node role is stuck")

func run(parent context.Context, cfg *config.NodeConfig, port int) error {
	name := cfg.Node.Name
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events.Info("system.startup", "node starting", map[string]interface{}{
		"service": "node",
		"node":    name,
		"role":    cfg.Role.Name,
		"version": version.Version,
	})
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Printf("metrics: register failed: %v", err)
	}

	r, err := roles.New(cfg.Role.Name, name, cfg.Role.Settings)
	if err != nil {
		return err
	}

	var client *mqtt.Client
	if cfg.MQTT.Enabled() {
		id := cfg.MQTT.ClientID
		if id == "" {
			id = "escapewright-node-" + name
		}
		creds, err := cfg.MQTT.Credentials()
		if err != nil {
			return err
		}
		client = mqtt.NewClient(cfg.MQTT.URL, id, mqtt.WithCredentials(creds.Username, creds.Password))
	}
	prefix := cfg.MQTT.Prefix(cfg.RoomID)

	var sender transmit.Sender = transmit.NewHTTPSender(cfg.ControlPanel.URL)
	if client != nil {
		sender = transmit.Fallback{transmit.NewMQTTSender(client, prefix), sender}
	}
	tx := transmit.New(sender,
		transmit.WithSource(name),
		transmit.WithAttempts(cfg.Transmit.Attempts),
		transmit.WithTimeout(cfg.Transmit.Timeout.Or(transmit.DefaultTimeout)),
		transmit.WithInterval(cfg.Transmit.Interval.Or(transmit.DefaultInterval)),
	)

	machine := role.NewMachine(r,
		role.WithJoinTimeout(cfg.JoinTimeout.Or(role.DefaultJoinTimeout)),
		role.WithReporter(tx),
	)
	if err := machine.Load(ctx); err != nil {
		log.Printf("node %s: %v", name, err)
	}

	fatal := func(err error) {
		log.Printf("node %s: fatal: %v", name, err)
		cancel(fmt.Errorf("%w: %v", errFatal, err))
	}
	srv := nodeapi.New(name, cfg.Node.Location, machine, fatal)

	if client != nil {
		l := mqtt.NewListener(client)
		l.Handle(mqtt.RelayTopic(prefix, name), srv.HandleMQTT)
		client.Start(l)
		defer client.Disconnect()
	}

	httpSrv := srv.NewHTTPServer(port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("node %s (%s) listening on %s", name, r.Name(), httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = context.Cause(ctx)
		if !errors.Is(runErr, errFatal) {
			runErr = nil
		}
	case runErr = <-errCh:
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := machine.Stop(); err != nil {
		log.Printf("node %s: stop on shutdown: %v", name, err)
	}
	tx.Wait()
	events.Info("system.shutdown", "node stopping", map[string]interface{}{"node": name})
	return runErr
}
