// Package metrics exposes the player's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_poll_cycles_total",
		Help: "Schedule poll cycles by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	serverActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_server_active",
		Help: "Whether the last poll reached the schedule server (1) or not (0)",
	})

	syncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_syncs_total",
		Help: "Schedule reconciliations by outcome",
	}, []string{"outcome"}) // outcome=noop|applied|aborted|failed

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_downloads_total",
		Help: "Media download decisions by outcome",
	}, []string{"outcome"}) // outcome=downloaded|skipped|failed|aborted

	playbackSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_playback_switches_total",
		Help: "Playback transitions by target mode",
	}, []string{"mode"})

	clockDeviation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_clock_deviation_seconds",
		Help: "Server time minus local time at the last accepted schedule",
	})
)

// RecordPoll counts one poll cycle and updates the server reachability gauge.
func RecordPoll(ok bool) {
	if ok {
		pollCycles.WithLabelValues("success").Inc()
		serverActive.Set(1)
		return
	}
	pollCycles.WithLabelValues("failure").Inc()
	serverActive.Set(0)
}

// RecordSync counts one reconciliation.
func RecordSync(outcome string) {
	syncs.WithLabelValues(outcome).Inc()
}

// RecordDownload counts one per-file download decision.
func RecordDownload(outcome string) {
	downloads.WithLabelValues(outcome).Inc()
}

// RecordPlaybackSwitch counts a transition into mode.
func RecordPlaybackSwitch(mode string) {
	playbackSwitches.WithLabelValues(mode).Inc()
}

// SetClockDeviation publishes the current clock deviation.
func SetClockDeviation(d time.Duration) {
	clockDeviation.Set(d.Seconds())
}
