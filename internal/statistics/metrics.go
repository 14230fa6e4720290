package statistics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RuleMatchesTotal    *prometheus.CounterVec
	ActionsAppliedTotal *prometheus.CounterVec
	ConfigReloadsTotal  *prometheus.CounterVec
	ActiveRules         prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RuleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_rule_matches_total",
				Help: "Total number of flow events matched by a rule (count)",
			},
			[]string{"rule"},
		),

		ActionsAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_actions_applied_total",
				Help: "Total number of actuator invocations by outcome (count)",
			},
			[]string{"action", "result"},
		),

		ConfigReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_config_reloads_total",
				Help: "Total number of option reconfigurations by outcome (count)",
			},
			[]string{"result"},
		),

		ActiveRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowguard_active_rules",
				Help: "Number of rules with both a filter and a code (count)",
			},
		),
	}
	m.registry.MustRegister(
		m.RuleMatchesTotal,
		m.ActionsAppliedTotal,
		m.ConfigReloadsTotal,
		m.ActiveRules,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
