// Copyright 2025 Tom Barlow
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

package tunnel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// createAttempts tracks tunnel creation calls by outcome
	createAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelctl_create_attempts_total",
			Help: "Total tunnel creation calls by outcome",
		},
		[]string{"outcome"},
	)

	// faultsTotal tracks classified agent API failures
	faultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelctl_faults_total",
			Help: "Total agent API failures by decoded kind and retry decision",
		},
		[]string{"kind", "retriable"},
	)

	// teardownTotal tracks stop operations by result
	teardownTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelctl_teardown_total",
			Help: "Total tunnel teardown operations by result",
		},
		[]string{"result"},
	)

	// activeSessions tracks tunnels established by this process
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunnelctl_active_sessions",
			Help: "Number of tunnels established and not yet torn down by this process",
		},
	)
)

// Creation outcomes.
const (
	outcomeCreated = "created"
	outcomeAdopted = "adopted"
	outcomeRenamed = "renamed"
	outcomeRetried = "retried"
	outcomeFailed  = "failed"
)

// recordAttempt increments the creation counter
func recordAttempt(outcome string) {
	createAttempts.WithLabelValues(outcome).Inc()
}

// recordFault increments the fault counter
func recordFault(v Verdict) {
	retriable := "false"
	if v.Retriable {
		retriable = "true"
	}
	faultsTotal.WithLabelValues(v.Kind.String(), retriable).Inc()
}

// recordTeardown increments the teardown counter
func recordTeardown(result string) {
	teardownTotal.WithLabelValues(result).Inc()
}
