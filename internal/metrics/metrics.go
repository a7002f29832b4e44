/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the alerting engine.
//
// All metrics are registered with a package-level registry served on the
// /metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - vigil_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every vigil metric. Separate from the default registry so
// tests and embedders control exactly what is exposed.
var Registry = prometheus.NewRegistry()

var (
	// AlertsCreatedTotal counts alerts created by severity and category.
	AlertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_created_total",
			Help: "Total number of alerts created by severity and category.",
		},
		[]string{"severity", "category"},
	)

	// AlertsDeduplicatedTotal counts create requests absorbed by an existing alert.
	AlertsDeduplicatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_deduplicated_total",
			Help: "Total create requests merged into an existing open alert.",
		},
	)

	// RuleEvaluationsTotal counts rule evaluations by outcome.
	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rule_evaluations_total",
			Help: "Total rule evaluations by outcome (fired, quiet, skipped, error).",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal counts notification deliveries by channel type and outcome.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_total",
			Help: "Total notification deliveries by channel type and outcome.",
		},
		[]string{"channel_type", "outcome"},
	)

	// NotificationRetriesTotal counts scheduled action retries.
	NotificationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_notification_retries_total",
			Help: "Total action executions scheduled for retry after a failure.",
		},
	)

	// OpenAlerts is the number of alerts currently in the open state.
	OpenAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_open_alerts",
			Help: "Number of alerts currently open.",
		},
	)

	// CorrelationsTotal counts correlations detected.
	CorrelationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_correlations_total",
			Help: "Total alert correlations detected.",
		},
	)
)

func init() {
	Registry.MustRegister(
		AlertsCreatedTotal,
		AlertsDeduplicatedTotal,
		RuleEvaluationsTotal,
		NotificationsTotal,
		NotificationRetriesTotal,
		OpenAlerts,
		CorrelationsTotal,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordAlertCreated records a newly created alert.
func RecordAlertCreated(severity, category string) {
	AlertsCreatedTotal.WithLabelValues(severity, category).Inc()
}

// RecordDeduplicated records a create request merged into an existing alert.
func RecordDeduplicated() {
	AlertsDeduplicatedTotal.Inc()
}

// RecordEvaluation records one rule evaluation outcome.
func RecordEvaluation(outcome string) {
	RuleEvaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records one delivery attempt result.
func RecordNotification(channelType, outcome string) {
	NotificationsTotal.WithLabelValues(channelType, outcome).Inc()
}

// RecordNotificationRetry records an action queued for retry.
func RecordNotificationRetry() {
	NotificationRetriesTotal.Inc()
}

// SetOpenAlerts updates the open-alert gauge.
func SetOpenAlerts(n int) {
	OpenAlerts.Set(float64(n))
}

// RecordCorrelation records one detected correlation.
func RecordCorrelation() {
	CorrelationsTotal.Inc()
}
