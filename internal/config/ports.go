// Package config provides configuration management for the orchestration
// engine. This file centralizes all port constants to avoid duplication and
// ensure consistency.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// Port Allocation Strategy:
//   8080-8099: API server
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints
//
// ============================================================================

// API and Web Service Ports
const (
	// APIServerPort is the port for the REST/SSE/WS API server.
	APIServerPort = 8080
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// Prometheus Metrics Ports for Analysis Agents
// Each agent gets a unique port for metrics scraping when run standalone.
const (
	MetricsPortFundamentalAgent     = 9101
	MetricsPortTechnicalAgent       = 9102
	MetricsPortRiskAgent            = 9103
	MetricsPortSentimentAgent       = 9104
	MetricsPortPeerComparisonAgent  = 9105
	MetricsPortInsiderActivityAgent = 9106
	MetricsPortPredictiveAgent      = 9107
	MetricsPortChartAnalyticsAgent  = 9108
	MetricsPortNewsAgent            = 9109
	MetricsPortMacroAgent           = 9110
	MetricsPortCatalystAgent        = 9111

	// MetricsPortOrchestrator is the metrics port for the orchestrator
	// process; it serves metrics on its main HTTP port alongside the API.
	MetricsPortOrchestrator = APIServerPort
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for Prometheus.
	PrometheusPort = 9090

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000

	// NATSExporterPort is the port for the NATS Prometheus exporter.
	NATSExporterPort = 7777
)

// AgentMetricsPorts maps agent_id to its metrics port, for Prometheus scrape
// configuration. Its keys are not the same set as consensus.BaseWeights'
// keys: "predictive", "chart_analytics" and "catalyst_tracking" have a port
// but no base weight, and "valuation" and "market" have a base weight but no
// port.
var AgentMetricsPorts = map[string]int{
	"fundamental":       MetricsPortFundamentalAgent,
	"technical":         MetricsPortTechnicalAgent,
	"risk":              MetricsPortRiskAgent,
	"sentiment":         MetricsPortSentimentAgent,
	"peer_comparison":   MetricsPortPeerComparisonAgent,
	"insider_activity":  MetricsPortInsiderActivityAgent,
	"predictive":        MetricsPortPredictiveAgent,
	"chart_analytics":   MetricsPortChartAnalyticsAgent,
	"news":              MetricsPortNewsAgent,
	"macro":             MetricsPortMacroAgent,
	"catalyst_tracking": MetricsPortCatalystAgent,
}

// GetAgentMetricsPort returns the metrics port for a given agent_id.
// Returns 0 if the agent is not found.
func GetAgentMetricsPort(agentID string) int {
	if port, ok := AgentMetricsPorts[agentID]; ok {
		return port
	}
	return 0
}
