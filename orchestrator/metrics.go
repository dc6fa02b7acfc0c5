package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lucy",
		Subsystem: "orchestrator",
		Name:      "tasks_created_total",
		Help:      "Tasks created from any source.",
	})

	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lucy",
		Subsystem: "orchestrator",
		Name:      "task_runs_total",
		Help:      "Run pipeline executions by outcome.",
	}, []string{"outcome"})
)
