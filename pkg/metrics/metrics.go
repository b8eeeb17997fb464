// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/statesync/pkg/logger"
	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
)

const (
	// Component labels.
	ComponentReconcile   = "reconcile"
	ComponentTransport   = "transport"
	ComponentInstance    = "instance"
	ComponentHost        = "host"
	ComponentChangeTrack = "changetrack"
)

var (
	namespace = "statesync"
	subsystem = "core"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	reconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation results by module and outcome",
		},
		[]string{"module", "outcome"},
	)

	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to reconcile an incoming module state (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"module"},
	)

	packetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_total",
			Help:      "Packets sent or received by the chunked transport",
		},
		[]string{"direction"},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Messages sent or fully reassembled, by command",
		},
		[]string{"direction", "command"},
	)

	pendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_messages",
			Help:      "Messages with at least one chunk received but not yet complete",
		},
	)

	prunedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pruned_messages_total",
			Help:      "Incomplete messages dropped because a newer message completed",
		},
	)

	conflicts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conflicts",
			Help:      "Paths currently in the conflict set",
		},
		[]string{"instance"},
	)

	invalidPaths = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalid_paths",
			Help:      "Invalid paths per module",
		},
		[]string{"module"},
	)

	sessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Instances currently connected to the host",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing /metrics on addr.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// RecordReconcile counts one reconciliation outcome and its duration.
func RecordReconcile(module, outcome string, duration time.Duration) {
	reconcileOutcomes.WithLabelValues(module, outcome).Inc()
	reconcileTime.WithLabelValues(module).Observe(float64(duration.Microseconds()) / 1000)
}

// AddPackets counts packets; direction is "in" or "out".
func AddPackets(direction string, n int) {
	packetsTotal.WithLabelValues(direction).Add(float64(n))
}

// IncMessages counts one message for command.
func IncMessages(direction, command string) {
	messagesTotal.WithLabelValues(direction, command).Inc()
}

// SetPendingMessages reports the size of the reassembly buffer.
func SetPendingMessages(n int) {
	pendingMessages.Set(float64(n))
}

// AddPrunedMessages counts incomplete messages dropped by the lower-id rule.
func AddPrunedMessages(n int) {
	prunedMessages.Add(float64(n))
}

// SetConflicts reports the conflict set size of an instance.
func SetConflicts(instance string, n int) {
	conflicts.WithLabelValues(instance).Set(float64(n))
}

// SetInvalidPaths reports the invalid path count of a module.
func SetInvalidPaths(module string, n int) {
	invalidPaths.WithLabelValues(module).Set(float64(n))
}

// SetSessions reports the number of connected instances.
func SetSessions(n int) {
	sessions.Set(float64(n))
}
