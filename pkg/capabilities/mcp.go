package capabilities

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// MCPServer is a capability.Source backed by one MCP server spawned over
// stdio. The server's tools become the actions of a single capability
// named after the server.
type MCPServer struct {
	name    string
	command string
	args    []string
	logger  zerolog.Logger

	client *client.Client
}

func NewMCPServer(name, command string, args []string, logger zerolog.Logger) *MCPServer {
	return &MCPServer{
		name:    name,
		command: command,
		args:    args,
		logger:  logger.With().Str("component", "mcp").Str("server", name).Logger(),
	}
}

func (s *MCPServer) Name() string { return "mcp:" + s.name }

// Provide spawns the server, initializes the protocol and lists its
// tools. The spawned process lives until Close.
func (s *MCPServer) Provide(ctx context.Context) ([]capability.Provider, error) {
	c, err := client.NewStdioMCPClient(s.command, nil, s.args...)
	if err != nil {
		return nil, fmt.Errorf("spawn mcp server %s: %w", s.name, err)
	}

	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start mcp server %s: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "nara", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", s.name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("list tools on mcp server %s: %w", s.name, err)
	}
	if len(listed.Tools) == 0 {
		c.Close()
		return nil, fmt.Errorf("mcp server %s exposes no tools", s.name)
	}

	s.client = c
	s.logger.Info().Int("tools", len(listed.Tools)).Msg("MCP server connected")

	return []capability.Provider{&mcpProvider{
		desc:   mcpDescriptor(s.name, listed.Tools),
		caller: c,
	}}, nil
}

// Close terminates the spawned server process.
func (s *MCPServer) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// mcpCaller is the slice of the mcp client the provider needs.
type mcpCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

type mcpProvider struct {
	desc   capability.Descriptor
	caller mcpCaller
}

func (p *mcpProvider) Describe() capability.Descriptor { return p.desc }

func (p *mcpProvider) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if _, ok := p.desc.Action(action); !ok {
		return nil, fmt.Errorf("%s does not support action %q", p.desc.Name, action)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = action
	req.Params.Arguments = params

	result, err := p.caller.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", p.desc.Name, action, err)
	}
	return mcpResultData(result)
}

// mcpDescriptor converts the server's tool list into one capability
// descriptor, tools as actions. JSON Schema property types outside the
// descriptor's vocabulary degrade to string.
func mcpDescriptor(serverName string, tools []mcp.Tool) capability.Descriptor {
	actions := make([]capability.ActionSpec, 0, len(tools))
	for _, tool := range tools {
		required := make(map[string]bool, len(tool.InputSchema.Required))
		for _, name := range tool.InputSchema.Required {
			required[name] = true
		}

		var params []capability.ParamSpec
		for name, raw := range tool.InputSchema.Properties {
			spec := capability.ParamSpec{
				Name:     name,
				Type:     "string",
				Required: required[name],
			}
			if prop, ok := raw.(map[string]any); ok {
				if t, ok := prop["type"].(string); ok {
					switch t {
					case "string", "number", "integer", "boolean", "array", "object":
						spec.Type = t
					}
				}
				if d, ok := prop["description"].(string); ok {
					spec.Description = d
				}
			}
			params = append(params, spec)
		}

		actions = append(actions, capability.ActionSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}

	return capability.Descriptor{
		Name:        serverName,
		Version:     "1.0.0",
		Category:    "mcp",
		Description: fmt.Sprintf("Tools provided by the %s MCP server", serverName),
		Actions:     actions,
	}
}

// mcpResultData flattens a tool result into the provider data shape.
func mcpResultData(result *mcp.CallToolResult) (map[string]any, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool returned no result")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool failed: %s", mcpText(result.Content))
	}

	if structured, ok := result.StructuredContent.(map[string]any); ok && len(structured) > 0 {
		return structured, nil
	}
	if text := mcpText(result.Content); text != "" {
		return map[string]any{"text": text}, nil
	}
	return map[string]any{}, nil
}

func mcpText(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
