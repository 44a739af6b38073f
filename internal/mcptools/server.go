// Package mcptools exposes the device catalog and control operations as
// MCP tools, served with the official MCP Go SDK.
package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnetctl/qnetctl/internal/command"
	"github.com/qnetctl/qnetctl/internal/database"
)

// Controller is the slice of the session client the tools need.
type Controller interface {
	ExecuteCommand(ctx context.Context, cmd *command.Command) (any, error)
}

// Config carries the tool-level settings: the custom subtype vocabulary
// and the synonym sets used by the fuzzy searches.
type Config struct {
	Version string
	// TypeMap keys are the custom subtype names the tools accept; values
	// are the raw export OutputTypes they correspond to.
	TypeMap map[string]string
	// Synonyms groups interchangeable search words; the key belongs to
	// its own set.
	Synonyms map[string][]string
}

// Server wires the tool set onto an MCP server.
type Server struct {
	server   *mcp.Server
	ctrl     Controller
	db       *database.Database
	typeMap  map[string]string
	synonyms [][]string
	log      zerolog.Logger
}

func New(ctrl Controller, db *database.Database, cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "qnetctl-mcp",
			Version: version,
		}, nil),
		ctrl:    ctrl,
		db:      db,
		typeMap: cfg.TypeMap,
		log:     log.With().Str("component", "mcptools").Logger(),
	}
	for key, values := range cfg.Synonyms {
		set := make([]string, 0, len(values)+1)
		set = append(set, strings.ToLower(key))
		for _, v := range values {
			set = append(set, strings.ToLower(v))
		}
		s.synonyms = append(s.synonyms, set)
	}
	s.registerTools()
	return s
}

// Serve reads MCP requests from in and writes responses to out, blocking
// until ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}
	return s.run(ctx, transport)
}

func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// register adds one tool whose result is JSON-encoded into the text
// content. Handler errors surface as IsError results rather than
// protocol failures.
func (s *Server) register(name, description, schema string, fn toolFunc) {
	s.server.AddTool(&mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
		result, err := fn(ctx, args)
		if err != nil {
			s.log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
		}, nil
	})
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
