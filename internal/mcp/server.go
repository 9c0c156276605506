package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/services"
	"cardshift/backend/internal/transfer"
)

type Server struct {
	mcpServer *server.MCPServer
	svc       *services.TransferService

	// the verify tool re-checks the most recent transfer made over MCP
	mu         sync.Mutex
	lastResult *transfer.BatchResult
	lastDest   *pipefy.Member
}

func NewServer(svc *services.TransferService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Card Shift",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		svc: svc,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_cards",
			mcp.WithDescription("Find cards whose stage responsible matches a member, or unassigned cards"),
			mcp.WithString("member_email", mcp.Description("Email of the member whose cards to find; omit with unassigned=true")),
			mcp.WithBoolean("unassigned", mcp.Description("Find cards with an empty responsible field instead")),
			mcp.WithString("pipe_ids", mcp.Description("Comma-separated pipe ids; empty means every pipe")),
		),
		s.handleSearchCards,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"transfer_responsible",
			mcp.WithDescription("Reassign every matching card's stage responsible from one member to another"),
			mcp.WithString("source_email", mcp.Description("Email of the current responsible; omit to take over unassigned cards")),
			mcp.WithString("dest_email", mcp.Required(), mcp.Description("Email of the new responsible")),
			mcp.WithString("pipe_ids", mcp.Description("Comma-separated pipe ids; empty means every pipe")),
			mcp.WithBoolean("grant_access", mcp.Description("Invite the destination to the first pipe before updating")),
		),
		s.handleTransferResponsible,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"verify_transfer",
			mcp.WithDescription("Re-fetch the cards of the most recent transfer and report per-card verdicts"),
		),
		s.handleVerifyTransfer,
	)
}

func (s *Server) handleSearchCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	subject := subjectFromArgs(args)
	if !subject.Unassigned && subject.MemberEmail == "" {
		return mcp.NewToolResultError("Provide member_email or unassigned=true"), nil
	}

	cards, _, err := s.svc.Search(ctx, splitIDs(args["pipe_ids"]), subject, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(slimCards(cards))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTransferResponsible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	destEmail, _ := args["dest_email"].(string)
	if destEmail == "" {
		return mcp.NewToolResultError("Missing required parameter: dest_email"), nil
	}

	subject := services.SearchSubject{Unassigned: true}
	if sourceEmail, _ := args["source_email"].(string); sourceEmail != "" {
		subject = services.SearchSubject{MemberEmail: sourceEmail}
	}

	cards, pipes, err := s.svc.Search(ctx, splitIDs(args["pipe_ids"]), subject, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	if len(cards) == 0 {
		return mcp.NewToolResultText(`{"total_cards":0}`), nil
	}

	dest, err := s.svc.ResolveSubject(ctx, services.SearchSubject{MemberEmail: destEmail})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Destination not resolved: %v", err)), nil
	}

	var source *pipefy.Member
	if !subject.Unassigned {
		source, _ = s.svc.ResolveSubject(ctx, subject)
	}

	params := services.TransferParams{
		Cards:       make(map[string]pipefy.Card, len(cards)),
		Pipes:       pipes,
		Source:      source,
		Dest:        *dest,
		GrantAccess: args["grant_access"] == true,
		Operator:    "mcp",
	}
	for _, card := range cards {
		params.CardIDs = append(params.CardIDs, card.ID.String())
		params.Cards[card.ID.String()] = card
	}

	result, run, err := s.svc.Transfer(ctx, params, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Transfer failed: %v", err)), nil
	}

	s.mu.Lock()
	s.lastResult = result
	s.lastDest = dest
	s.mu.Unlock()

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleVerifyTransfer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	result, dest := s.lastResult, s.lastDest
	s.mu.Unlock()

	if result == nil || dest == nil {
		return mcp.NewToolResultError("No transfer to verify yet"), nil
	}

	items, err := s.svc.Verify(ctx, result, *dest, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verification failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(items)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func subjectFromArgs(args map[string]interface{}) services.SearchSubject {
	subject := services.SearchSubject{}
	subject.Unassigned, _ = args["unassigned"].(bool)
	subject.MemberEmail, _ = args["member_email"].(string)
	return subject
}

func splitIDs(raw interface{}) []string {
	s, _ := raw.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

type slimCard struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Phase string `json:"phase"`
	Pipe  string `json:"pipe,omitempty"`
}

func slimCards(cards []pipefy.Card) []slimCard {
	out := make([]slimCard, 0, len(cards))
	for _, c := range cards {
		out = append(out, slimCard{
			ID:    c.ID.String(),
			Title: c.Title,
			Phase: c.PhaseName,
			Pipe:  c.PipeName,
		})
	}
	return out
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
