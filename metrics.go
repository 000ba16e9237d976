package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler and pipeline metrics, exposed on /metrics.
var (
	metricCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "cycles_total",
		Help:      "Completed scheduling cycles.",
	})
	metricTasksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "tasks_executed_total",
		Help:      "Tasks admitted and run in the non-critical band.",
	})
	metricTasksDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "tasks_deferred_total",
		Help:      "Tasks re-queued because their worst case did not fit the remaining budget.",
	})
	metricSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "sweeps_total",
		Help:      "Critical sweep executions.",
	})
	metricSweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "sweeps_skipped_total",
		Help:      "Cycles whose critical sweep was skipped for budget reasons.",
	})
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coedit",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the queue at the end of the last cycle.",
	})
	metricChangesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "pipeline",
		Name:      "changes_applied_total",
		Help:      "Changes successfully applied by flushes.",
	})
	metricChangesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "pipeline",
		Name:      "changes_dropped_total",
		Help:      "Changes dropped during flush for referencing positions outside the content.",
	})
	metricEditsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coedit",
		Subsystem: "pipeline",
		Name:      "edits_pushed_total",
		Help:      "file_edit payloads written to websocket clients.",
	})
)
