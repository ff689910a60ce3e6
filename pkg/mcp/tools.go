package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

const defaultListLimit = 20

type resolveResult struct {
	View   string          `json:"view"`
	Index  *int            `json:"index,omitempty"`
	Found  bool            `json:"found"`
	Entity json.RawMessage `json:"entity"`
}

type verifyResult struct {
	Passed     bool               `json:"passed"`
	Strict     bool               `json:"strict"`
	Diagnostic string             `json:"diagnostic,omitempty"`
	Violations []plugin.Violation `json:"violations,omitempty"`
}

// handleResolve returns one view of the context record.
func (s *Server) handleResolve(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ec, failure := s.decodeContext(req)
	if failure != nil {
		return failure, nil
	}
	viewName, err := req.RequireString("view")
	if err != nil {
		return mcp.NewToolResultError("view is required"), nil
	}
	view, err := contextentity.ParseView(viewName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var opts []contextentity.Option
	if name := req.GetString("pre_image_name", ""); name != "" {
		opts = append(opts, contextentity.WithPreImageName(name))
	}
	if name := req.GetString("post_image_name", ""); name != "" {
		opts = append(opts, contextentity.WithPostImageName(name))
	}

	out := resolveResult{View: view.String()}
	ce := contextentity.New(ec, opts...)
	if index := req.GetInt("index", -1); index >= 0 {
		ce = contextentity.NewCollection(ec, opts...).At(index)
		if ce == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no record at index %d of the Targets collection", index)), nil
		}
		out.Index = &index
	}

	if e := ce.Get(view); e != nil {
		data, err := xrm.MarshalEntity(e)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding %s: %v", view, err)), nil
		}
		out.Found = true
		out.Entity = data
	}
	return marshalResult(out)
}

// handleVerify checks a needs declaration, or the needs of a registered
// plugin, against the context.
func (s *Server) handleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ec, failure := s.decodeContext(req)
	if failure != nil {
		return failure, nil
	}

	var needs plugin.Needs
	if name := req.GetString("plugin", ""); name != "" {
		p, err := s.lookup(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		needs = p.Needs()
	} else {
		raw := mcp.ParseStringMap(req, "needs", nil)
		if raw == nil {
			return mcp.NewToolResultError("needs or plugin is required"), nil
		}
		parsed, err := parseNeeds(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		needs = parsed
	}

	verdict := plugin.Gate{Needs: needs, Conditions: s.deps.Conditions}.Verify(ctx, ec, contextentity.New(ec))
	return marshalResult(verifyResult{
		Passed:     verdict.Passed(),
		Strict:     verdict.Strict,
		Diagnostic: verdict.Diagnostic(),
		Violations: verdict.Violations,
	})
}

// handleRun executes a registered plugin. A failed invocation is returned as
// an error result carrying the full outcome.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("plugin")
	if err != nil {
		return mcp.NewToolResultError("plugin is required"), nil
	}
	if s.deps.Runner == nil {
		return mcp.NewToolResultError("plugin runner is not configured"), nil
	}
	p, err := s.lookup(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ec, failure := s.decodeContext(req)
	if failure != nil {
		return failure, nil
	}

	out, runErr := s.deps.Runner.Execute(ctx, p, ec)
	if out == nil {
		return mcp.NewToolResultError(fmt.Sprintf("plugin execution failed: %v", runErr)), nil
	}
	result, err := marshalResult(out)
	if err == nil && runErr != nil {
		result.IsError = true
	}
	return result, err
}

// handleInvocations reads the journal: one invocation by id, per-status
// stats, or a filtered list.
func (s *Server) handleInvocations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("id", ""); id != "" {
		inv, err := s.deps.Journal.GetInvocation(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invocation lookup failed: %v", err)), nil
		}
		return marshalResult(inv)
	}

	if req.GetBool("stats", false) {
		stats, err := s.deps.Journal.InvocationStats(ctx, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats query failed: %v", err)), nil
		}
		return marshalResult(stats)
	}

	filter := store.InvocationFilter{
		Plugin:        req.GetString("plugin", ""),
		Entity:        req.GetString("entity", ""),
		CorrelationID: req.GetString("correlation_id", ""),
		Limit:         req.GetInt("limit", defaultListLimit),
	}
	if v := req.GetString("status", ""); v != "" {
		status := schema.InvocationStatus(v)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", v)), nil
		}
		filter.Status = &status
	}

	invocations, err := s.deps.Journal.ListInvocations(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invocation query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"invocations": invocations})
}

// --- Helpers ---

// decodeContext reads the "context" argument. The returned result is non-nil
// when the payload cannot be used.
func (s *Server) decodeContext(req mcp.CallToolRequest) (*xrm.ExecutionContext, *mcp.CallToolResult) {
	raw, err := req.RequireString("context")
	if err != nil {
		return nil, mcp.NewToolResultError("context is required")
	}

	var ec *xrm.ExecutionContext
	if s.deps.Decoder != nil {
		var result *schema.ValidationResult
		ec, result = s.deps.Decoder.Validate([]byte(raw))
		if err := result.ToError(); err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid execution context: %v", err))
		}
	} else {
		ec, err = xrm.UnmarshalContext([]byte(raw))
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid execution context: %v", err))
		}
	}
	if ec == nil {
		return nil, mcp.NewToolResultError("empty execution context")
	}
	return ec, nil
}

func (s *Server) lookup(name string) (plugin.Plugin, error) {
	if s.deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "plugin registry is not configured")
	}
	return s.deps.Registry.Get(name)
}

// parseNeeds converts a tool argument object into a validated declaration.
func parseNeeds(raw map[string]any) (plugin.Needs, error) {
	var needs plugin.Needs
	data, err := json.Marshal(raw)
	if err != nil {
		return needs, fmt.Errorf("invalid needs: %w", err)
	}
	if err := json.Unmarshal(data, &needs); err != nil {
		return needs, fmt.Errorf("invalid needs: %w", err)
	}
	if err := needs.Validate(); err != nil {
		return needs, err
	}
	return needs, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
