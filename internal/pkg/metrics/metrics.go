package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every lightbringer collector; served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// OTAUpdatesTotal counts BeginUpdate calls by outcome.
	// result: success / pending_verify / already_updating / out_of_space / read_error / internal
	OTAUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbringer_ota_updates_total",
			Help: "Total number of OTA update attempts by result.",
		},
		[]string{"result"},
	)

	// OTABytesWritten counts image bytes programmed into firmware slots.
	OTABytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightbringer_ota_bytes_written_total",
			Help: "Total number of firmware image bytes written to flash.",
		},
	)

	// OTAUpdateDuration records how long accepted update attempts ran.
	OTAUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lightbringer_ota_update_duration_seconds",
			Help:    "Duration of OTA update attempts.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// OTAInProgress is 1 while an update is streaming.
	OTAInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightbringer_ota_in_progress",
			Help: "Whether an OTA update is currently being written (1) or not (0).",
		},
	)

	// OTAImageState exposes the state of the current descriptor (1 for the active state).
	OTAImageState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lightbringer_ota_image_state",
			Help: "Verification state of the running firmware image.",
		},
		[]string{"state"},
	)

	// LightWritesTotal counts light state writes by transport.
	// source: http / websocket / mqtt
	LightWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbringer_light_writes_total",
			Help: "Total number of light state writes by source.",
		},
		[]string{"source"},
	)

	// PersistFlushesTotal counts writes of the light state to the userdata partition.
	PersistFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbringer_persist_flushes_total",
			Help: "Total number of light state flushes to flash by result.",
		},
		[]string{"result"},
	)

	// MQTTPublishTotal counts bridge publishes by outcome.
	MQTTPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbringer_mqtt_publish_total",
			Help: "Total number of MQTT publishes by the bridge.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(OTAUpdatesTotal)
	Registry.MustRegister(OTABytesWritten)
	Registry.MustRegister(OTAUpdateDuration)
	Registry.MustRegister(OTAInProgress)
	Registry.MustRegister(OTAImageState)
	Registry.MustRegister(LightWritesTotal)
	Registry.MustRegister(PersistFlushesTotal)
	Registry.MustRegister(MQTTPublishTotal)
}

// SetImageState marks state as the active one among known.
func SetImageState(state string, known []string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		OTAImageState.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
