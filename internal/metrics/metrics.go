package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	subscriptionsStarted   atomic.Int64
	subscriptionsCompleted atomic.Int64
	subscriptionsFailed    atomic.Int64
	subscriptionsAborted   atomic.Int64
	activeSubscriptions    atomic.Int64
	streamConnections      atomic.Int64
	events                 sync.Map
}

type eventStats struct {
	delivered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncSubscriptionStarted() {
	if r == nil {
		return
	}
	r.subscriptionsStarted.Add(1)
	r.activeSubscriptions.Add(1)
}

// IncSubscriptionEnded records a subscription leaving the active set. err is
// the terminal error, if any.
func (r *Registry) IncSubscriptionEnded(err error) {
	if r == nil {
		return
	}
	r.activeSubscriptions.Add(-1)
	if err != nil {
		r.subscriptionsFailed.Add(1)
		return
	}
	r.subscriptionsCompleted.Add(1)
}

func (r *Registry) IncSubscriptionAborted() {
	if r == nil {
		return
	}
	r.subscriptionsAborted.Add(1)
}

func (r *Registry) IncEventDelivered(kind string) {
	if r == nil {
		return
	}
	if strings.TrimSpace(kind) == "" {
		kind = "unknown"
	}
	r.eventStats(kind).delivered.Add(1)
}

func (r *Registry) AddStreamConnections(delta int64) {
	if r == nil {
		return
	}
	r.streamConnections.Add(delta)
}

// Snapshot holds point-in-time values, mostly for tests and health output.
type Snapshot struct {
	SubscriptionsStarted   int64            `json:"subscriptions_started"`
	SubscriptionsCompleted int64            `json:"subscriptions_completed"`
	SubscriptionsFailed    int64            `json:"subscriptions_failed"`
	SubscriptionsAborted   int64            `json:"subscriptions_aborted"`
	ActiveSubscriptions    int64            `json:"active_subscriptions"`
	StreamConnections      int64            `json:"stream_connections"`
	EventsDelivered        map[string]int64 `json:"events_delivered"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	snapshot := Snapshot{
		SubscriptionsStarted:   r.subscriptionsStarted.Load(),
		SubscriptionsCompleted: r.subscriptionsCompleted.Load(),
		SubscriptionsFailed:    r.subscriptionsFailed.Load(),
		SubscriptionsAborted:   r.subscriptionsAborted.Load(),
		ActiveSubscriptions:    r.activeSubscriptions.Load(),
		StreamConnections:      r.streamConnections.Load(),
		EventsDelivered:        map[string]int64{},
	}
	for _, kind := range r.eventKinds() {
		snapshot.EventsDelivered[kind] = r.eventStats(kind).delivered.Load()
	}
	return snapshot
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "fswatch_subscriptions_started_total", "Total watch subscriptions opened", r.subscriptionsStarted.Load())
	writeCounter(writer, "fswatch_subscriptions_completed_total", "Watch subscriptions that completed", r.subscriptionsCompleted.Load())
	writeCounter(writer, "fswatch_subscriptions_failed_total", "Watch subscriptions that ended with an error", r.subscriptionsFailed.Load())
	writeCounter(writer, "fswatch_subscriptions_aborted_total", "Watch subscriptions closed by an abort signal", r.subscriptionsAborted.Load())
	writeGauge(writer, "fswatch_subscriptions_active", "Watch subscriptions currently open", r.activeSubscriptions.Load())
	writeGauge(writer, "fswatch_stream_connections", "Websocket stream connections currently open", r.streamConnections.Load())

	kinds := r.eventKinds()
	sort.Strings(kinds)

	writeHelp(writer, "fswatch_events_delivered_total", "Change events delivered to subscribers")
	fmt.Fprintln(writer, "# TYPE fswatch_events_delivered_total counter")
	for _, kind := range kinds {
		fmt.Fprintf(writer, "fswatch_events_delivered_total{kind=%s} %d\n", formatLabel(kind), r.eventStats(kind).delivered.Load())
	}

	return nil
}

func (r *Registry) eventStats(kind string) *eventStats {
	value, _ := r.events.LoadOrStore(kind, &eventStats{})
	return value.(*eventStats)
}

func (r *Registry) eventKinds() []string {
	if r == nil {
		return nil
	}
	var kinds []string
	r.events.Range(func(key, value interface{}) bool {
		if kind, ok := key.(string); ok {
			kinds = append(kinds, kind)
		}
		return true
	})
	return kinds
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
