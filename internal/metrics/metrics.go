// Package metrics exports repository activity as Prometheus metrics.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

const namespace = "wificonf"

// Recorder implements repository.Metrics. A nil Recorder records nothing.
type Recorder struct {
	added          *prom.CounterVec
	removed        *prom.CounterVec
	rejected       *prom.CounterVec
	statusChanges  *prom.CounterVec
	loads          *prom.CounterVec
	skipped        prom.Counter
	writes         *prom.CounterVec
	storedProfiles prom.Gauge
}

var _ repository.Metrics = (*Recorder)(nil)

// NewRecorder creates the metrics and registers them with reg.
func NewRecorder(reg prom.Registerer) *Recorder {
	r := &Recorder{
		added: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_added_total",
			Help:      "Profiles added or updated, by whether they merged into an existing one",
		}, []string{"merged"}),
		removed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_removed_total",
			Help:      "Profiles removed, by reason",
		}, []string{"reason"}),
		rejected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Rejected add or update operations, by rejection code",
		}, []string{"code"}),
		statusChanges: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "selection_status_changes_total",
			Help:      "Selection status transitions, by new status and reason",
		}, []string{"status", "reason"}),
		loads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_loads_total",
			Help:      "Store loads by result",
		}, []string{"result"}),
		skipped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_skipped_records_total",
			Help:      "Stored records dropped during load",
		}),
		writes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Store writes by result",
		}, []string{"result"}),
		storedProfiles: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_profiles",
			Help:      "Profiles in the last successful load or write",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.added, r.removed, r.rejected, r.statusChanges, r.loads, r.skipped, r.writes, r.storedProfiles)
	}
	return r
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

func (r *Recorder) ProfileAdded(merged bool) {
	if r == nil {
		return
	}
	label := "false"
	if merged {
		label = "true"
	}
	r.added.WithLabelValues(label).Inc()
}

func (r *Recorder) ProfileRemoved(reason string) {
	if r == nil {
		return
	}
	r.removed.WithLabelValues(reason).Inc()
}

func (r *Recorder) Rejected(code repository.Rejection) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(code.String()).Inc()
}

func (r *Recorder) SelectionStatusChanged(kind profile.StatusKind, reason profile.DisableReason) {
	if r == nil {
		return
	}
	r.statusChanges.WithLabelValues(kind.String(), reason.String()).Inc()
}

func (r *Recorder) StoreLoaded(profiles, skipped int, err error) {
	if r == nil {
		return
	}
	r.loads.WithLabelValues(result(err)).Inc()
	r.skipped.Add(float64(skipped))
	if err == nil {
		r.storedProfiles.Set(float64(profiles))
	}
}

func (r *Recorder) StoreWritten(profiles int, err error) {
	if r == nil {
		return
	}
	r.writes.WithLabelValues(result(err)).Inc()
	if err == nil {
		r.storedProfiles.Set(float64(profiles))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
