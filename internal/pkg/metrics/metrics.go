package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultNoPatch = "no_patch"
)

var (
	PromRegistry       = prometheus.NewRegistry()
	UpdaterRegisterer  = prometheus.WrapRegistererWithPrefix("patchslot_", PromRegistry)
	PatchInstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patch_installs_total",
			Help: "Total number of attempts to install a patch into a slot.",
		},
		[]string{"result"},
	)
	PatchInstallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patch_install_duration_seconds",
			Help:    "Duration of patch installations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"result"},
	)
	BootReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boot_reports_total",
			Help: "Total number of boot outcome reports.",
		},
		[]string{"outcome"},
	)
	IgnoredBootReportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ignored_boot_reports_total",
			Help: "Total number of boot reports that contradicted the recorded history.",
		},
	)
	CurrentSlot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "current_slot_index",
			Help: "Index of the slot that is booted next, -1 if none.",
		},
	)
)

func init() {
	UpdaterRegisterer.MustRegister(PatchInstallsTotal)
	UpdaterRegisterer.MustRegister(PatchInstallDuration)
	UpdaterRegisterer.MustRegister(BootReportsTotal)
	UpdaterRegisterer.MustRegister(IgnoredBootReportsTotal)
	UpdaterRegisterer.MustRegister(CurrentSlot)
}

// WriteTextfile writes all metrics in the text exposition format to path,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, PromRegistry)
}
