package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lodomo/EscapeWright/internal/events"
)

var (
	regOK     atomic.Bool
	startTime = time.Now()

	nodeStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "escapewright",
			Subsystem: "fleet",
			Name:      "node_ready",
			Help:      "1 when the node last reported READY.",
		}, []string{"node"},
	)
	nodeReachable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "escapewright",
			Subsystem: "fleet",
			Name:      "node_reachable",
			Help:      "1 when the node answered its last status request or probe.",
		}, []string{"node"},
	)
	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "escapewright",
			Subsystem: "fleet",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a full fleet status refresh.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	relays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "fleet",
			Name:      "relays_total",
			Help:      "Messages relayed to nodes by result.",
		}, []string{"node", "result"},
	)
	transmitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "transmit",
			Name:      "attempts_total",
			Help:      "Delivery attempts by message kind and result.",
		}, []string{"kind", "result"},
	)
	transmitDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "transmit",
			Name:      "dropped_total",
			Help:      "Messages dropped after exhausting every attempt.",
		}, []string{"kind"},
	)
	roleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "role",
			Name:      "transitions_total",
			Help:      "Role status transitions.",
		}, []string{"role", "from", "to"},
	)
	clockOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "clock",
			Name:      "operations_total",
			Help:      "Operator clock operations by result.",
		}, []string{"op", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"},
	)

	uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "escapewright",
			Name:      "uptime_seconds",
			Help:      "Seconds since process start.",
		}, func() float64 { return time.Since(startTime).Seconds() },
	)
	eventsTotal = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Name:      "events_total",
			Help:      "Events emitted since start.",
		}, func() float64 { return float64(events.TotalCount()) },
	)
	wsClients = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "escapewright",
			Name:      "ws_clients",
			Help:      "Connected event stream subscribers.",
		}, func() float64 { return float64(events.SubscriberCount()) },
	)
	wsDropped = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "escapewright",
			Name:      "ws_dropped_events_total",
			Help:      "Events not delivered to event stream subscribers that fell behind.",
		}, func() float64 { return float64(events.DroppedCount()) },
	)
)

// Register registers all collectors with r. Calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		nodeStatus, nodeReachable, refreshDuration, relays,
		transmitAttempts, transmitDropped, roleTransitions, clockOps, httpRequests,
		uptime, eventsTotal, wsClients, wsDropped,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register succeeds.

func SetNodeState(node string, ready, reachable bool) {
	if regOK.Load() {
		nodeStatus.WithLabelValues(node).Set(boolValue(ready))
		nodeReachable.WithLabelValues(node).Set(boolValue(reachable))
	}
}

func ObserveRefresh(d time.Duration) {
	if regOK.Load() {
		refreshDuration.Observe(d.Seconds())
	}
}

func IncRelay(node string, ok bool) {
	if regOK.Load() {
		relays.WithLabelValues(node, result(ok)).Inc()
	}
}

func IncTransmitAttempt(kind string, ok bool) {
	if regOK.Load() {
		transmitAttempts.WithLabelValues(kind, result(ok)).Inc()
	}
}

func IncTransmitDropped(kind string) {
	if regOK.Load() {
		transmitDropped.WithLabelValues(kind).Inc()
	}
}

func RecordRoleTransition(role, from, to string) {
	if regOK.Load() {
		roleTransitions.WithLabelValues(role, from, to).Inc()
	}
}

func IncClockOp(op string, ok bool) {
	if regOK.Load() {
		clockOps.WithLabelValues(op, result(ok)).Inc()
	}
}

func IncHTTPRequest(route string, code int) {
	if regOK.Load() {
		httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
