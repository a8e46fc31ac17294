package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig holds the full fan-out/consensus/synthesis agent fleet
// configuration, loaded separately from Config so operators can edit agent
// tuning without touching infrastructure settings.
type AgentConfig struct {
	Global        GlobalAgentConfig   `mapstructure:"global"`
	Agents        map[string]AgentSpec `mapstructure:"agents"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Communication CommunicationConfig `mapstructure:"communication"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// GlobalAgentConfig contains settings that apply to all agents.
type GlobalAgentConfig struct {
	DefaultDeadline            string  `mapstructure:"default_deadline"`
	DefaultConfidenceThreshold float64 `mapstructure:"default_confidence_threshold"`
	EnableMetrics              bool    `mapstructure:"enable_metrics"`
	MetricsPort                int     `mapstructure:"metrics_port"`
}

// AgentSpec configures one fan-out phase agent. The same shape covers all
// eleven agent kinds (fundamental, technical, risk, sentiment,
// peer_comparison, insider_activity, predictive, chart_analytics, news,
// macro, catalyst_tracking) — the teacher's three-way analysis/strategy/risk
// split doesn't apply here, since every agent in this fleet runs the same
// "observe, score, opine" contract (spec §3/§4.3).
type AgentSpec struct {
	Enabled    bool                   `mapstructure:"enabled"`
	Name       string                 `mapstructure:"name"`
	Version    string                 `mapstructure:"version"`
	MCPServers []MCPServerConnection  `mapstructure:"mcp_servers"`
	Deadline   string                 `mapstructure:"deadline"`
	Config     map[string]interface{} `mapstructure:"config"`
}

// MCPServerConnection describes how an agent reaches an MCP server,
// resolved at wiring time against toolcaller.ServerConfig.
type MCPServerConnection struct {
	Name    string   `mapstructure:"name"`
	Kind    string   `mapstructure:"kind"` // "stdio" or "sse"
	URL     string   `mapstructure:"url"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Tools   []string `mapstructure:"tools"`
}

// OrchestrationConfig defines how the fan-out, consensus, synthesis, and
// critique stages coordinate.
type OrchestrationConfig struct {
	Voting       VotingConfig       `mapstructure:"voting"`
	LLMReasoning LLMReasoningConfig `mapstructure:"llm_reasoning"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Performance  PerformanceConfig  `mapstructure:"performance"`
}

// VotingConfig tunes internal/consensus's weighted aggregation.
type VotingConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Method   string  `mapstructure:"method"` // "weighted_consensus"
	MinVotes int     `mapstructure:"min_votes"`
	Quorum   float64 `mapstructure:"quorum"`
}

// LLMReasoningConfig tunes the synthesis and critique stages' LLM calls.
type LLMReasoningConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Model             string  `mapstructure:"model"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	SynthesisTemplate string  `mapstructure:"synthesis_template"`
	CritiqueTemplate  string  `mapstructure:"critique_template"`
}

// CoordinationConfig defines progress broadcast and learning behavior.
type CoordinationConfig struct {
	BroadcastProgress bool   `mapstructure:"broadcast_progress"`
	EventRetention    string `mapstructure:"event_retention"`
	EnableLearning    bool   `mapstructure:"enable_learning"`
}

// PerformanceConfig tunes internal/consensus's accuracy-override tracking.
type PerformanceConfig struct {
	TrackAgentAccuracy bool `mapstructure:"track_agent_accuracy"`
	AdjustWeights      bool `mapstructure:"adjust_weights"`
	MinSampleSize      int  `mapstructure:"min_sample_size"`
}

// CommunicationConfig defines inter-stage communication over the bus.
type CommunicationConfig struct {
	NATS NATSCommunicationConfig `mapstructure:"nats"`
}

// NATSCommunicationConfig defines NATS subjects and retention used when
// internal/bus relays progressbus events across processes.
type NATSCommunicationConfig struct {
	Subjects  NATSSubjects  `mapstructure:"subjects"`
	Retention NATSRetention `mapstructure:"retention"`
}

// NATSSubjects names the subject each progressbus.EventKind publishes to.
type NATSSubjects struct {
	AnalysisStarted  string `mapstructure:"analysis_started"`
	AgentStarted     string `mapstructure:"agent_started"`
	AgentCompleted   string `mapstructure:"agent_completed"`
	AgentFailed      string `mapstructure:"agent_failed"`
	SynthesisStarted string `mapstructure:"synthesis_started"`
	CritiqueStarted  string `mapstructure:"critique_started"`
	AnalysisComplete string `mapstructure:"analysis_completed"`
	AnalysisFailed   string `mapstructure:"analysis_failed"`
	DriftAlert       string `mapstructure:"drift_alert"`
}

// NATSRetention defines message retention policies per subject group.
type NATSRetention struct {
	Progress  string `mapstructure:"progress"`
	Artifacts string `mapstructure:"artifacts"`
	Drift     string `mapstructure:"drift"`
}

// LoggingConfig defines agent logging settings.
type LoggingConfig struct {
	Level       string            `mapstructure:"level"`
	Format      string            `mapstructure:"format"`
	Output      string            `mapstructure:"output"`
	AgentLevels map[string]string `mapstructure:"agent_levels"`
}

// LoadAgentConfig loads the agent fleet configuration from file, falling
// back to ./configs/agents.yaml when configPath is empty.
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("agents")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	setAgentDefaults(v)

	v.SetEnvPrefix("STOCKRESEARCH_AGENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read agent config: %w", err)
		}
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
	}

	return &cfg, nil
}

// agentIDs lists spec §3's eleven fan-out agents.
var agentIDs = []string{
	"fundamental", "technical", "risk", "sentiment", "peer_comparison",
	"insider_activity", "predictive", "chart_analytics", "news",
	"macro", "catalyst_tracking",
}

func setAgentDefaults(v *viper.Viper) {
	v.SetDefault("global.default_deadline", "30s")
	v.SetDefault("global.default_confidence_threshold", 0.6)
	v.SetDefault("global.enable_metrics", true)
	v.SetDefault("global.metrics_port", APIServerPort)

	for _, id := range agentIDs {
		v.SetDefault(fmt.Sprintf("agents.%s.enabled", id), true)
		v.SetDefault(fmt.Sprintf("agents.%s.name", id), id+"-agent")
		v.SetDefault(fmt.Sprintf("agents.%s.version", id), "1.0.0")
		v.SetDefault(fmt.Sprintf("agents.%s.deadline", id), "30s")
	}

	v.SetDefault("orchestration.voting.enabled", true)
	v.SetDefault("orchestration.voting.method", "weighted_consensus")
	v.SetDefault("orchestration.voting.min_votes", 3)
	v.SetDefault("orchestration.voting.quorum", 0.5)

	v.SetDefault("orchestration.llm_reasoning.enabled", true)
	v.SetDefault("orchestration.llm_reasoning.model", "claude-sonnet-4-20250514")
	v.SetDefault("orchestration.llm_reasoning.max_tokens", 4000)
	v.SetDefault("orchestration.llm_reasoning.temperature", 0.3)
	v.SetDefault("orchestration.llm_reasoning.synthesis_template", "templates/synthesis.txt")
	v.SetDefault("orchestration.llm_reasoning.critique_template", "templates/critique.txt")

	v.SetDefault("orchestration.coordination.broadcast_progress", true)
	v.SetDefault("orchestration.coordination.event_retention", "24h")
	v.SetDefault("orchestration.coordination.enable_learning", false)

	v.SetDefault("orchestration.performance.track_agent_accuracy", true)
	v.SetDefault("orchestration.performance.adjust_weights", false)
	v.SetDefault("orchestration.performance.min_sample_size", 50)

	v.SetDefault("communication.nats.subjects.analysis_started", "analysis.started")
	v.SetDefault("communication.nats.subjects.agent_started", "analysis.agent.started")
	v.SetDefault("communication.nats.subjects.agent_completed", "analysis.agent.completed")
	v.SetDefault("communication.nats.subjects.agent_failed", "analysis.agent.failed")
	v.SetDefault("communication.nats.subjects.synthesis_started", "analysis.synthesis.started")
	v.SetDefault("communication.nats.subjects.critique_started", "analysis.critique.started")
	v.SetDefault("communication.nats.subjects.analysis_completed", "analysis.completed")
	v.SetDefault("communication.nats.subjects.analysis_failed", "analysis.failed")
	v.SetDefault("communication.nats.subjects.drift_alert", "analysis.drift.alert")

	v.SetDefault("communication.nats.retention.progress", "1h")
	v.SetDefault("communication.nats.retention.artifacts", "24h")
	v.SetDefault("communication.nats.retention.drift", "24h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// GetDeadlineDuration parses an agent's deadline string to time.Duration.
func (ac *AgentConfig) GetDeadlineDuration(deadline string) (time.Duration, error) {
	return time.ParseDuration(deadline)
}

// EnabledAgents returns the agent_ids of every enabled fan-out agent.
func (ac *AgentConfig) EnabledAgents() []string {
	var enabled []string
	for id, agent := range ac.Agents {
		if agent.Enabled {
			enabled = append(enabled, id)
		}
	}
	return enabled
}
