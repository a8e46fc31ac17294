package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaultAgentConfig(t *testing.T) *AgentConfig {
	t.Helper()
	cfg, err := LoadAgentConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	return cfg
}

func TestLoadAgentConfigDefaultsGlobal(t *testing.T) {
	cfg := loadDefaultAgentConfig(t)

	assert.Equal(t, "30s", cfg.Global.DefaultDeadline)
	assert.Equal(t, 0.6, cfg.Global.DefaultConfidenceThreshold)
	assert.True(t, cfg.Global.EnableMetrics)
}

func TestLoadAgentConfigDefaultsAllElevenAgentsEnabled(t *testing.T) {
	cfg := loadDefaultAgentConfig(t)

	for _, id := range agentIDs {
		agent, ok := cfg.Agents[id]
		require.True(t, ok, "agent %q should be present in config", id)
		assert.True(t, agent.Enabled)
		assert.Equal(t, id+"-agent", agent.Name)
		assert.Equal(t, "1.0.0", agent.Version)
		assert.Equal(t, "30s", agent.Deadline)
	}
}

func TestLoadAgentConfigDefaultsVoting(t *testing.T) {
	cfg := loadDefaultAgentConfig(t)

	assert.True(t, cfg.Orchestration.Voting.Enabled)
	assert.Equal(t, "weighted_consensus", cfg.Orchestration.Voting.Method)
	assert.Equal(t, 3, cfg.Orchestration.Voting.MinVotes)
	assert.Equal(t, 0.5, cfg.Orchestration.Voting.Quorum)
}

func TestLoadAgentConfigDefaultsLLMReasoning(t *testing.T) {
	cfg := loadDefaultAgentConfig(t)

	assert.True(t, cfg.Orchestration.LLMReasoning.Enabled)
	assert.Equal(t, 4000, cfg.Orchestration.LLMReasoning.MaxTokens)
	assert.Equal(t, "templates/synthesis.txt", cfg.Orchestration.LLMReasoning.SynthesisTemplate)
	assert.Equal(t, "templates/critique.txt", cfg.Orchestration.LLMReasoning.CritiqueTemplate)
}

func TestLoadAgentConfigDefaultsNATSSubjects(t *testing.T) {
	cfg := loadDefaultAgentConfig(t)

	assert.Equal(t, "analysis.agent.completed", cfg.Communication.NATS.Subjects.AgentCompleted)
	assert.Equal(t, "analysis.drift.alert", cfg.Communication.NATS.Subjects.DriftAlert)
}

func TestEnabledAgentsReturnsOnlyEnabled(t *testing.T) {
	cfg := &AgentConfig{
		Agents: map[string]AgentSpec{
			"fundamental": {Enabled: true},
			"technical":   {Enabled: false},
			"risk":        {Enabled: true},
		},
	}

	enabled := cfg.EnabledAgents()
	assert.ElementsMatch(t, []string{"fundamental", "risk"}, enabled)
}

func TestGetDeadlineDurationParsesValidDuration(t *testing.T) {
	cfg := &AgentConfig{}
	d, err := cfg.GetDeadlineDuration("45s")
	require.NoError(t, err)
	assert.Equal(t, 45.0, d.Seconds())
}

func TestGetDeadlineDurationErrorsOnInvalid(t *testing.T) {
	cfg := &AgentConfig{}
	_, err := cfg.GetDeadlineDuration("not-a-duration")
	assert.Error(t, err)
}
