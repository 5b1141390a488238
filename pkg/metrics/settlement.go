package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts settlement ledger appends and rejections.
type LedgerMetrics struct {
	appended  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	decisions *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	appended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_appended_total",
		Help: "Settlement events accepted by the ledger.",
	}, []string{"event_type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_appends_rejected_total",
		Help: "Settlement appends rejected before commit.",
	}, []string{"reason"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_recon_decisions_total",
		Help: "Reconciliation decisions recorded.",
	}, []string{"decision"})
	reg.MustRegister(appended, rejected, decisions)
	return &LedgerMetrics{
		appended:  appended,
		rejected:  rejected,
		decisions: decisions,
	}
}

// IncAppended increments the accepted counter for an event type.
func (m *LedgerMetrics) IncAppended(eventType string) {
	if m == nil || m.appended == nil {
		return
	}
	m.appended.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncRejected increments the rejection counter for a reason.
func (m *LedgerMetrics) IncRejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncDecision increments the reconciliation decision counter.
func (m *LedgerMetrics) IncDecision(decision string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(decision)).Inc()
}

// ExportQueueMetrics counts claim queue activity.
type ExportQueueMetrics struct {
	claimed   prometheus.Counter
	conflicts prometheus.Counter
	resolved  *prometheus.CounterVec
	reaped    prometheus.Counter
}

// NewExportQueueMetrics registers the export queue metrics on the provided registerer.
func NewExportQueueMetrics(reg prometheus.Registerer) *ExportQueueMetrics {
	if reg == nil {
		return &ExportQueueMetrics{}
	}
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_jobs_claimed_total",
		Help: "Export jobs claimed by workers.",
	})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_claim_conflicts_total",
		Help: "Claim attempts lost to another worker.",
	})
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_jobs_resolved_total",
		Help: "Export jobs reaching a terminal or retryable outcome.",
	}, []string{"status"})
	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_jobs_reaped_total",
		Help: "Export jobs recovered from expired leases.",
	})
	reg.MustRegister(claimed, conflicts, resolved, reaped)
	return &ExportQueueMetrics{
		claimed:   claimed,
		conflicts: conflicts,
		resolved:  resolved,
		reaped:    reaped,
	}
}

// IncClaimed increments the claimed counter.
func (m *ExportQueueMetrics) IncClaimed() {
	if m == nil || m.claimed == nil {
		return
	}
	m.claimed.Inc()
}

// IncClaimConflict increments the lost-claim counter.
func (m *ExportQueueMetrics) IncClaimConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// IncResolved increments the resolution counter for a status.
func (m *ExportQueueMetrics) IncResolved(status string) {
	if m == nil || m.resolved == nil {
		return
	}
	m.resolved.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncReaped increments the lease reaper counter.
func (m *ExportQueueMetrics) IncReaped() {
	if m == nil || m.reaped == nil {
		return
	}
	m.reaped.Inc()
}
