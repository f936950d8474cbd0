package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPAdapter drives a remote model through an MCP server's "complete"
// tool, used when CX_LLM_BACKEND=mcp points at an SSE endpoint instead
// of a local CLI.
type MCPAdapter struct {
	Endpoint    string
	TimeoutSecs int

	cli *client.Client
}

// NewMCPAdapter dials the MCP endpoint over SSE and initializes the
// session eagerly so call-time errors are limited to the actual tool
// invocation.
func NewMCPAdapter(endpoint string, timeoutSecs int) (*MCPAdapter, error) {
	if endpoint == "" {
		return nil, errMessage("mcp provider: no endpoint configured")
	}
	c, err := client.NewSSEMCPClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcp provider: dial %s: %w", endpoint, err)
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeoutSecs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		defer cancel()
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp provider: start session: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "cx", Version: "dev"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp provider: initialize: %w", err)
	}

	return &MCPAdapter{Endpoint: endpoint, TimeoutSecs: timeoutSecs, cli: c}, nil
}

func (a *MCPAdapter) callComplete(ctx context.Context, prompt string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if a.TimeoutSecs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutSecs)*time.Second)
		defer cancel()
	}

	// Every call gets its own correlation id so a server fronting more
	// than one concurrent MCP client can line up request and response in
	// its own logs; cx never needs the id back, it only needs it sent.
	correlationID := uuid.NewString()

	req := mcp.CallToolRequest{}
	req.Params.Name = "complete"
	req.Params.Arguments = map[string]any{"prompt": prompt, "request_id": correlationID}

	result, err := a.cli.CallTool(runCtx, req)
	if err != nil {
		if runCtx.Err() != nil {
			return "", &RunError{Message: "mcp provider timed out", Timeout: &TimeoutInfo{TimeoutSecs: a.TimeoutSecs}}
		}
		return "", fmt.Errorf("mcp provider: call complete (request_id=%s): %w", correlationID, err)
	}
	if result.IsError {
		return "", errMessage("mcp provider: tool returned an error result")
	}

	var text string
	for _, item := range result.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	return text, nil
}

func (a *MCPAdapter) RunPlain(ctx context.Context, prompt string) (string, error) {
	return a.callComplete(ctx, prompt)
}

func (a *MCPAdapter) RunJsonl(ctx context.Context, prompt string) (string, error) {
	text, err := a.callComplete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return WrapAgentTextAsJsonl(text)
}
