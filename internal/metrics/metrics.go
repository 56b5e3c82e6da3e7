// Package metrics exposes controller activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/towerd/internal/eventbus"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towerd",
		Subsystem: "protocol",
		Name:      "requests_total",
		Help:      "Requests served, by route and status",
	}, []string{"route", "status"})

	ambientLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towerd",
		Subsystem: "sensor",
		Name:      "ambient",
		Help:      "Last ambient light reading (0-255)",
	})

	mutedState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towerd",
		Subsystem: "lamps",
		Name:      "muted",
		Help:      "1 while the lamps are auto-muted",
	})

	muteTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towerd",
		Subsystem: "lamps",
		Name:      "mute_transitions_total",
		Help:      "Auto-mute transitions, by direction",
	}, []string{"direction"})

	lampIntent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "towerd",
		Subsystem: "lamps",
		Name:      "intent",
		Help:      "Requested lamp state (1 = on), before muting",
	}, []string{"lamp"})

	settingValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "towerd",
		Subsystem: "settings",
		Name:      "value",
		Help:      "Current auto-mute settings",
	}, []string{"setting"})

	resetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "towerd",
		Subsystem: "controller",
		Name:      "reinitializations_total",
		Help:      "Controller reinitializations (boot and /reset)",
	})

	loopIteration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "towerd",
		Subsystem: "loop",
		Name:      "iteration_seconds",
		Help:      "Duration of one control loop iteration",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// bus is the event bus whose drop count is exported; set by Subscribe.
	bus atomic.Pointer[eventbus.Bus]

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "towerd",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Event deliveries dropped because a subscriber queue was full",
	}, func() float64 {
		if b := bus.Load(); b != nil {
			return float64(b.Dropped())
		}
		return 0
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoopObserver records control loop iteration durations.
type LoopObserver struct{}

// ObserveIteration records one iteration.
func (LoopObserver) ObserveIteration(d time.Duration) {
	loopIteration.Observe(d.Seconds())
}

// Subscribe updates the metrics from bus events.
func Subscribe(b *eventbus.Bus) {
	bus.Store(b)
	b.SubscribeTypes(handle,
		eventbus.EventTypeRequest,
		eventbus.EventTypeAmbient,
		eventbus.EventTypeMute,
		eventbus.EventTypeLeds,
		eventbus.EventTypeSettings,
		eventbus.EventTypeReset,
	)
}

// handle updates the metrics for one event. The gauges written by a reset are
// also written by mute, leds and settings events, so all types share one queue.
func handle(e eventbus.Event) {
	switch e.Type {
	case eventbus.EventTypeRequest:
		onRequest(e)
	case eventbus.EventTypeAmbient:
		onAmbient(e)
	case eventbus.EventTypeMute:
		onMute(e)
	case eventbus.EventTypeLeds:
		onLeds(e)
	case eventbus.EventTypeSettings:
		onSettings(e)
	case eventbus.EventTypeReset:
		onReset(e)
	}
}

func onRequest(e eventbus.Event) {
	route, _ := e.Data["route"].(string)
	status, _ := e.Data["status"].(int)
	requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func onAmbient(e eventbus.Event) {
	if v, ok := e.Data["ambient"].(int); ok {
		ambientLevel.Set(float64(v))
	}
}

func onMute(e eventbus.Event) {
	muted, _ := e.Data["muted"].(bool)
	mutedState.Set(boolValue(muted))
	if muted {
		muteTransitions.WithLabelValues("mute").Inc()
	} else {
		muteTransitions.WithLabelValues("unmute").Inc()
	}
	onAmbient(e)
}

func onLeds(e eventbus.Event) {
	for _, name := range []string{"green", "yellow", "red"} {
		on, _ := e.Data[name].(bool)
		lampIntent.WithLabelValues(name).Set(boolValue(on))
	}
}

func onSettings(e eventbus.Event) {
	for _, name := range []string{"threshold", "hysteresis"} {
		if v, ok := e.Data[name].(uint8); ok {
			settingValue.WithLabelValues(name).Set(float64(v))
		}
	}
}

func onReset(e eventbus.Event) {
	resetsTotal.Inc()
	onSettings(e)
	mutedState.Set(0)
	for _, name := range []string{"green", "yellow", "red"} {
		lampIntent.WithLabelValues(name).Set(0)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
