// Package mcpserver exposes the search service over a stdio JSON-RPC loop
// speaking the MCP tools/list + tools/call methods. Sessions are resolved
// only at this boundary; the core stays transport-free.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/apiscout/apiscout/internal/service"
	"github.com/apiscout/apiscout/internal/session"
)

type rpcReq struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResp struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *rpcError      `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDesc describes a single tool, including its input schema.
type ToolDesc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Server dispatches tool calls to the search service.
type Server struct {
	svc         *service.Service
	logger      *log.Logger
	callTimeout time.Duration
	tools       []ToolDesc
}

// NewServer wires the stdio adapter around an already-constructed service.
func NewServer(svc *service.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{svc: svc, logger: logger, callTimeout: 60 * time.Second}
	s.initTools()
	return s
}

func (s *Server) initTools() {
	s.tools = []ToolDesc{
		{
			Name:        "configure_session",
			Description: "Create or update a named session binding API description URLs to headers and cache TTL.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id":  map[string]any{"type": "string"},
					"source_urls": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"headers":     map[string]any{"type": "object"},
					"ttl_seconds": map[string]any{"type": "integer", "minimum": 1},
					"rate":        map[string]any{"type": "number", "minimum": 0},
					"burst":       map[string]any{"type": "integer", "minimum": 0},
				},
				"required": []string{"source_urls"},
			},
		},
		{
			Name:        "search_api",
			Description: "Search an API description by keywords, tags, or path pattern.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source":     map[string]any{"type": "string"},
					"session_id": map[string]any{"type": "string"},
					"type":       map[string]any{"type": "string", "enum": []string{"keyword", "tag", "pattern"}},
					"query":      map[string]any{"type": "string"},
					"methods":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
				"required": []string{"source", "session_id"},
			},
		},
		{
			Name:        "get_details",
			Description: "Load the full definition of one or more operations by path and method.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source":     map[string]any{"type": "string"},
					"session_id": map[string]any{"type": "string"},
					"paths":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"methods":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"source", "session_id", "paths"},
			},
		},
		{
			Name:        "get_suggestions",
			Description: "Suggest endpoint paths for a partial string, plus popular endpoints.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source":     map[string]any{"type": "string"},
					"session_id": map[string]any{"type": "string"},
					"partial":    map[string]any{"type": "string"},
					"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
				"required": []string{"source", "session_id"},
			},
		},
		{
			Name:        "get_stats",
			Description: "Report session, cache, and system counters.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "clear_cache",
			Description: "Drop cached indexes, optionally filtered by source and/or session.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source":     map[string]any{"type": "string"},
					"session_id": map[string]any{"type": "string"},
				},
			},
		},
	}
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "configure_session":
		return s.tConfigureSession(args)
	case "search_api":
		return s.tSearch(ctx, args)
	case "get_details":
		return s.tGetDetails(ctx, args)
	case "get_suggestions":
		return s.tGetSuggestions(ctx, args)
	case "get_stats":
		return s.tGetStats(args)
	case "clear_cache":
		return s.tClearCache(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) tConfigureSession(args map[string]any) (map[string]any, error) {
	urls := asStrSlice(args["source_urls"])
	if len(urls) == 0 {
		return nil, errors.New("source_urls is required")
	}
	cfg := session.Config{
		SourceURLs: urls,
		Headers:    asStrMap(args["headers"]),
	}
	if ttl := asInt(args["ttl_seconds"]); ttl > 0 {
		cfg.CacheTTL = time.Duration(ttl) * time.Second
	}
	if r := asFloat(args["rate"]); r > 0 {
		cfg.RateLimit = &session.RateLimit{Rate: r, Burst: asInt(args["burst"])}
	}
	sess, err := s.svc.ConfigureSession(str(args["session_id"]), cfg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess}, nil
}

func (s *Server) tSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := s.svc.Search(ctx, service.SearchRequest{
		SourceURL: str(args["source"]),
		SessionID: str(args["session_id"]),
		Type:      str(args["type"]),
		Query:     str(args["query"]),
		Methods:   asStrSlice(args["methods"]),
		Limit:     asInt(args["limit"]),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"results":    resp.Results,
		"total":      resp.Total,
		"elapsed_ms": resp.ElapsedMS,
		"metadata":   resp.Metadata,
	}, nil
}

func (s *Server) tGetDetails(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := s.svc.GetDetails(ctx, service.DetailsRequest{
		SourceURL: str(args["source"]),
		SessionID: str(args["session_id"]),
		Paths:     asStrSlice(args["paths"]),
		Methods:   asStrSlice(args["methods"]),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": resp.Results, "elapsed_ms": resp.ElapsedMS}, nil
}

func (s *Server) tGetSuggestions(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := s.svc.GetSuggestions(ctx,
		str(args["source"]), str(args["session_id"]), str(args["partial"]), asInt(args["limit"]))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"suggestions": resp.Suggestions,
		"popular":     resp.Popular,
		"elapsed_ms":  resp.ElapsedMS,
	}, nil
}

func (s *Server) tGetStats(args map[string]any) (map[string]any, error) {
	return map[string]any{"stats": s.svc.GetStats(str(args["session_id"]))}, nil
}

func (s *Server) tClearCache(args map[string]any) (map[string]any, error) {
	cleared := s.svc.ClearCache(str(args["source"]), str(args["session_id"]))
	return map[string]any{"cleared": cleared}, nil
}

// Serve runs the stdio JSON-RPC loop until in reaches EOF. Each tool call
// gets its own timeout so a stuck fetch cannot wedge the loop.
func (s *Server) Serve(in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(bufio.NewReader(in))
	for {
		var req rpcReq
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Printf("decode request: %v", err)
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": s.tools}, nil)

		case "tools/call":
			name := str(req.Params["name"])
			args, _ := req.Params["arguments"].(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
			res, err := s.callTool(ctx, name, args)
			cancel()
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
}

func writeResp(w io.Writer, id any, result map[string]any, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func str(v any) string { s, _ := v.(string); return s }

func asInt(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}

func asStrSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asStrMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, e := range m {
		if s, ok := e.(string); ok {
			out[k] = s
		}
	}
	return out
}
