package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civis_audit_events_appended_total",
		Help: "Audit events successfully written to the sink.",
	})
	appendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civis_audit_append_failures_total",
		Help: "Audit events that failed to write to the sink.",
	})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civis_audit_events_dropped_total",
		Help: "Audit events evicted because the inbox was full.",
	})
)
