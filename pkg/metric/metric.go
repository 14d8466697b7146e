// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	metrics "github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all engine metrics using luxfi/metric
type Metrics struct {
	metricsInstance metrics.Metrics

	// Pool metrics
	PoolsCreated    metrics.Counter
	SwapsExecuted   metrics.Counter
	LiquidityEvents metrics.Counter

	// Flash-loan metrics
	FlashLoansIssued metrics.Counter
	FlashLoanFees    metrics.Counter

	// Bridge metrics
	BridgeMessagesExecuted metrics.Counter
	BridgeMessagesReplayed metrics.Counter

	// Oracle metrics
	OracleUpdates   metrics.Counter
	DeviationAlerts metrics.Counter

	// Governance metrics
	GovernanceChanges metrics.Counter

	// Failure accounting by operation and error kind
	OperationFailures metrics.CounterVec

	// Performance metrics
	SwapDuration metrics.Histogram
}

// NewMetrics creates a new metrics instance using luxfi/metric
func NewMetrics() (*Metrics, error) {
	factory := metrics.NewPrometheusFactory()
	metricsInstance := factory.New("amm")

	m := &Metrics{
		metricsInstance: metricsInstance,
	}

	m.PoolsCreated = metricsInstance.NewCounter("pools_created_total", "Total number of pools created")
	m.SwapsExecuted = metricsInstance.NewCounter("swaps_executed_total", "Total number of swaps executed")
	m.LiquidityEvents = metricsInstance.NewCounter("liquidity_events_total", "Total liquidity add/remove operations")

	m.FlashLoansIssued = metricsInstance.NewCounter("flash_loans_issued_total", "Total flash loans issued and repaid")
	m.FlashLoanFees = metricsInstance.NewCounter("flash_loan_fees_total", "Total flash-loan fee units routed to reserves")

	m.BridgeMessagesExecuted = metricsInstance.NewCounter("bridge_messages_executed_total", "Total cross-chain swap messages executed")
	m.BridgeMessagesReplayed = metricsInstance.NewCounter("bridge_messages_replayed_total", "Total replayed bridge messages rejected")

	m.OracleUpdates = metricsInstance.NewCounter("oracle_updates_total", "Total successful oracle samples")
	m.DeviationAlerts = metricsInstance.NewCounter("oracle_deviation_alerts_total", "Total price deviation alerts emitted")

	m.GovernanceChanges = metricsInstance.NewCounter("governance_changes_executed_total", "Total timelocked changes executed")

	m.OperationFailures = metricsInstance.NewCounterVec(
		"operation_failures_total",
		"Total failed operations by operation and error kind",
		[]string{"operation", "error"},
	)

	m.SwapDuration = metricsInstance.NewHistogram(
		"swap_duration_seconds",
		"Time to execute a swap",
		prometheus.DefBuckets,
	)

	return m, nil
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	if registry := m.metricsInstance.Registry(); registry != nil {
		return registry
	}
	return prometheus.DefaultGatherer
}
