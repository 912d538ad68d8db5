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

// Package metrics exposes Prometheus instrumentation for the task engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksStarted tracks task runs handed to the runner
	tasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowy_tasks_started_total",
			Help: "Total task runs started by task name",
		},
		[]string{"task"},
	)

	// tasksCompleted tracks finished task runs by outcome classification
	tasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowy_tasks_completed_total",
			Help: "Total task runs completed by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	// taskDuration tracks task wall-clock time
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowy_task_duration_seconds",
			Help:    "Task wall-clock duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"task"},
	)

	// tasksRunning tracks currently executing tasks
	tasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowy_tasks_running",
			Help: "Number of currently executing tasks",
		},
	)
)

// RecordStart marks one task run as started.
func RecordStart(task string) {
	tasksStarted.WithLabelValues(task).Inc()
	tasksRunning.Inc()
}

// RecordCompletion marks one task run as finished. Outcome is "success" or
// the error classification.
func RecordCompletion(task, outcome string, duration time.Duration) {
	tasksCompleted.WithLabelValues(task, outcome).Inc()
	taskDuration.WithLabelValues(task).Observe(duration.Seconds())
	tasksRunning.Dec()
}
