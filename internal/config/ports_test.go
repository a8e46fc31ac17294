package config

import "testing"

func TestGetAgentMetricsPort(t *testing.T) {
	tests := []struct {
		name     string
		agentID  string
		expected int
	}{
		{"fundamental", "fundamental", MetricsPortFundamentalAgent},
		{"technical", "technical", MetricsPortTechnicalAgent},
		{"risk", "risk", MetricsPortRiskAgent},
		{"sentiment", "sentiment", MetricsPortSentimentAgent},
		{"peer_comparison", "peer_comparison", MetricsPortPeerComparisonAgent},
		{"insider_activity", "insider_activity", MetricsPortInsiderActivityAgent},
		{"predictive", "predictive", MetricsPortPredictiveAgent},
		{"chart_analytics", "chart_analytics", MetricsPortChartAnalyticsAgent},
		{"news", "news", MetricsPortNewsAgent},
		{"macro", "macro", MetricsPortMacroAgent},
		{"catalyst_tracking", "catalyst_tracking", MetricsPortCatalystAgent},
		{"unknown agent returns 0", "unknown-agent", 0},
		{"empty id returns 0", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetAgentMetricsPort(tt.agentID)
			if got != tt.expected {
				t.Errorf("GetAgentMetricsPort(%q) = %d, want %d", tt.agentID, got, tt.expected)
			}
		})
	}
}

func TestAgentMetricsPorts(t *testing.T) {
	expectedAgents := []string{
		"fundamental", "technical", "risk", "sentiment", "peer_comparison",
		"insider_activity", "predictive", "chart_analytics", "news",
		"macro", "catalyst_tracking",
	}

	for _, agent := range expectedAgents {
		if _, ok := AgentMetricsPorts[agent]; !ok {
			t.Errorf("AgentMetricsPorts missing expected agent: %s", agent)
		}
	}

	if len(AgentMetricsPorts) != len(expectedAgents) {
		t.Errorf("AgentMetricsPorts has %d agents, expected %d", len(AgentMetricsPorts), len(expectedAgents))
	}
}

func TestAgentMetricsPortsUnique(t *testing.T) {
	seenPorts := make(map[int]string)

	for agentID, port := range AgentMetricsPorts {
		if port < 9100 || port > 9199 {
			t.Errorf("AgentMetricsPorts[%q] = %d, port should be in range 9100-9199", agentID, port)
		}
		if existingAgent, exists := seenPorts[port]; exists {
			t.Errorf("Port %d is used by both %q and %q", port, existingAgent, agentID)
		}
		seenPorts[port] = agentID
	}
}

func TestAgentMetricsPortsConsistency(t *testing.T) {
	for agentID, expectedPort := range AgentMetricsPorts {
		t.Run(agentID, func(t *testing.T) {
			got := GetAgentMetricsPort(agentID)
			if got != expectedPort {
				t.Errorf("GetAgentMetricsPort(%q) = %d, but AgentMetricsPorts[%q] = %d",
					agentID, got, agentID, expectedPort)
			}
		})
	}
}
