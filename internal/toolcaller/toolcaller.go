// Package toolcaller wraps the Model Context Protocol client so an agent
// implementation can call external tools (market data, search, LLM-backed
// analysis) as ordinary I/O, per spec §9's "LLM inside an agent" note: the
// orchestration core never calls this directly, only agent_fn does.
package toolcaller

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// defaultCallTimeout bounds a single tool call; AgentRuntime's own per-agent
// deadline (spec §4.1, default 30s) still governs the overall call, this is
// an upper bound so a single MCP round trip cannot itself hang forever.
const defaultCallTimeout = 60 * time.Second

// ToolDescriptor is a minimal view of an available MCP tool.
type ToolDescriptor struct {
	Name        string
	Description string
}

// Caller is the narrow interface agent implementations receive in their
// AgentContext. It is intentionally server-name-scoped the same way the
// teacher's multi-MCP-server agent base was, so one agent can reach both a
// market-data server and a search/LLM server through the same caller.
type Caller interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (json.RawMessage, error)
	ListTools(ctx context.Context, serverName string) ([]ToolDescriptor, error)
}

// ServerConfig describes one MCP server connection, mirroring the
// internal/stdio vs. external/HTTP distinction the teacher's agent
// configuration carries.
type ServerConfig struct {
	Name    string
	Kind    string // "stdio" or "sse"
	Command string
	Args    []string
	Env     map[string]string
	URL     string
}

// Client connects to a set of MCP servers and dispatches tool calls to them
// by name.
type Client struct {
	client   *mcp.Client
	sessions map[string]*mcp.ClientSession
	log      zerolog.Logger
}

// New constructs a Client identified as name/version to the servers it
// connects to.
func New(name, version string, log zerolog.Logger) *Client {
	return &Client{
		client:   mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil),
		sessions: make(map[string]*mcp.ClientSession),
		log:      log.With().Str("component", "toolcaller").Logger(),
	}
}

// Connect establishes sessions for every configured server. Partial
// failures leave prior sessions open and return the first error; callers
// that need all-or-nothing semantics should call Close on error.
func (c *Client) Connect(ctx context.Context, servers []ServerConfig) error {
	for _, sc := range servers {
		session, err := c.connectOne(ctx, sc)
		if err != nil {
			return fmt.Errorf("connect %s: %w", sc.Name, err)
		}
		c.sessions[sc.Name] = session
		c.log.Info().Str("server", sc.Name).Str("kind", sc.Kind).Msg("mcp server connected")
	}
	return nil
}

func (c *Client) connectOne(ctx context.Context, sc ServerConfig) (*mcp.ClientSession, error) {
	switch sc.Kind {
	case "stdio":
		cmd := exec.CommandContext(ctx, sc.Command, sc.Args...) // #nosec G204 command from validated config
		for k, v := range sc.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return c.client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	case "sse":
		return c.client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: sc.URL}, nil)
	default:
		return nil, fmt.Errorf("unknown mcp server kind %q", sc.Kind)
	}
}

// CallTool invokes toolName on serverName with args, within
// defaultCallTimeout, and returns the tool's raw content marshaled to JSON.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (json.RawMessage, error) {
	session, ok := c.sessions[serverName]
	if !ok {
		return nil, fmt.Errorf("mcp server %q not connected", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tool call %s.%s failed: %w", serverName, toolName, err)
	}

	raw, err := json.Marshal(result.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return raw, nil
}

// ListTools lists the tools available on serverName.
func (c *Client) ListTools(ctx context.Context, serverName string) ([]ToolDescriptor, error) {
	session, ok := c.sessions[serverName]
	if !ok {
		return nil, fmt.Errorf("mcp server %q not connected", serverName)
	}
	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s failed: %w", serverName, err)
	}
	out := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

// Close shuts down every open session.
func (c *Client) Close() error {
	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return firstErr
}
