package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"cardshift/backend/internal/auth"
	"cardshift/backend/internal/config"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/services"
	"cardshift/backend/internal/transfer"
)

// Server holds the dependencies for the console API.
type Server struct {
	svc      *services.TransferService
	webhooks *services.WebhookRunner
	registry *RunRegistry
	cfg      *config.Config
	logger   *logging.Logger
}

// NewServer creates a new Server.
func NewServer(svc *services.TransferService, webhooks *services.WebhookRunner, cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		svc:      svc,
		webhooks: webhooks,
		registry: NewRunRegistry(),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register mounts the console routes on the group.
func (s *Server) Register(g *echo.Group) {
	g.POST("/connections", s.CreateConnection)
	g.GET("/pipes", s.ListPipes)
	g.GET("/members", s.ListMembers)
	g.POST("/searches", s.StartSearch)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/transfers", s.StartTransfer)
	g.POST("/transfers/:id/verify", s.StartVerify)
	g.GET("/history", s.ListHistory)
	g.GET("/history/:id/items", s.ListHistoryItems)
}

// ConnectionRequest carries an upstream credential to validate and store.
type ConnectionRequest struct {
	Token          string `json:"token"`
	OrganizationID string `json:"organization_id"`
}

// ConnectionResponse deliberately omits the token.
type ConnectionResponse struct {
	AccountEmail   string `json:"account_email"`
	OrganizationID string `json:"organization_id"`
}

// CreateConnection validates the credential and makes it the active one.
// (POST /api/v1/connections)
func (s *Server) CreateConnection(c echo.Context) error {
	ctx := c.Request().Context()

	var req ConnectionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.Token == "" || req.OrganizationID == "" {
		return problem(c, http.StatusBadRequest, "Invalid request body", "token and organization_id are required")
	}

	conn, err := s.svc.Connect(ctx, req.Token, req.OrganizationID)
	if err != nil {
		return upstreamProblem(c, err)
	}
	return c.JSON(http.StatusOK, ConnectionResponse{
		AccountEmail:   conn.AccountEmail,
		OrganizationID: conn.OrganizationID,
	})
}

// ListPipes returns the organization's pipes.
// (GET /api/v1/pipes?refresh=true)
func (s *Server) ListPipes(c echo.Context) error {
	ctx := c.Request().Context()
	refresh := c.QueryParam("refresh") == "true"

	pipes, err := s.svc.Pipes(ctx, refresh)
	if err != nil {
		return upstreamProblem(c, err)
	}
	return c.JSON(http.StatusOK, pipes)
}

// ListMembers returns the organization's members, optionally fuzzy-filtered.
// (GET /api/v1/members?q=ali&refresh=true)
func (s *Server) ListMembers(c echo.Context) error {
	ctx := c.Request().Context()
	refresh := c.QueryParam("refresh") == "true"

	members, err := s.svc.Members(ctx, refresh, c.QueryParam("q"))
	if err != nil {
		return upstreamProblem(c, err)
	}
	return c.JSON(http.StatusOK, members)
}

// SearchRequest starts a card search across the selected pipes.
type SearchRequest struct {
	PipeIDs []string               `json:"pipe_ids"`
	Subject services.SearchSubject `json:"subject"`
}

// StartSearch kicks off an async search and returns the run id to poll.
// (POST /api/v1/searches)
func (s *Server) StartSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if !req.Subject.Unassigned && req.Subject.MemberID == "" && req.Subject.MemberEmail == "" {
		return problem(c, http.StatusBadRequest, "Invalid request body", "subject must name a member or be unassigned")
	}

	run := s.registry.Create(KindSearch)

	// the search outlives the HTTP request on purpose; it is polled, and a
	// dropped poll must not cancel a half-done scan
	go s.runSearch(context.Background(), run.ID, req)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func (s *Server) runSearch(ctx context.Context, runID string, req SearchRequest) {
	events := make(chan transfer.Progress, 16)
	done := make(chan struct{})
	go func() {
		s.registry.Drain(runID, events)
		close(done)
	}()

	cards, pipes, err := s.svc.Search(ctx, req.PipeIDs, req.Subject, events)
	close(events)
	<-done

	var source *pipefy.Member
	if !req.Subject.Unassigned && err == nil {
		// re-resolving here is cheap: the member list is cached
		source, _ = s.svc.ResolveSubject(ctx, req.Subject)
	}

	s.registry.Finish(runID, func(r *Run) {
		if err != nil {
			r.State = StateFailed
			r.Error = err.Error()
			return
		}
		r.State = StateDone
		r.Cards = cards
		r.pipes = pipes
		r.source = source
	})
}

// GetRun returns the current snapshot of an async run.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	snap, ok := s.registry.Snapshot(c.Param("id"))
	if !ok {
		return problem(c, http.StatusNotFound, "Run not found", "no run with id "+c.Param("id"))
	}
	return c.JSON(http.StatusOK, snap)
}

// TransferRequest starts a reassignment of cards found by an earlier search.
type TransferRequest struct {
	SearchRunID string `json:"search_run_id"`
	// CardIDs narrows the transfer to a subset of the search results; empty
	// means every card found.
	CardIDs     []string `json:"card_ids"`
	DestID      string   `json:"dest_id"`
	DestEmail   string   `json:"dest_email"`
	GrantAccess bool     `json:"grant_access"`
	Operator    string   `json:"operator"`
}

// StartTransfer kicks off an async transfer run.
// (POST /api/v1/transfers)
func (s *Server) StartTransfer(c echo.Context) error {
	ctx := c.Request().Context()

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.Operator == "" {
		req.Operator = auth.OperatorFromContext(ctx)
	}

	search, ok := s.registry.Snapshot(req.SearchRunID)
	if !ok || search.Kind != KindSearch {
		return problem(c, http.StatusNotFound, "Search not found", "no search run with id "+req.SearchRunID)
	}
	if search.State != StateDone {
		return problem(c, http.StatusConflict, "Search not finished", "transfer needs a completed search")
	}

	dest, err := s.svc.ResolveSubject(ctx, services.SearchSubject{MemberID: req.DestID, MemberEmail: req.DestEmail})
	if err != nil {
		return problem(c, http.StatusBadRequest, "Destination not resolved", err.Error())
	}

	params := buildParams(&search, req, *dest)
	if len(params.CardIDs) == 0 {
		return problem(c, http.StatusBadRequest, "Nothing to transfer", "no cards selected")
	}

	run := s.registry.Create(KindTransfer)
	go s.runTransfer(context.Background(), run.ID, params)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func buildParams(search *Run, req TransferRequest, dest pipefy.Member) services.TransferParams {
	byID := make(map[string]pipefy.Card, len(search.Cards))
	for _, card := range search.Cards {
		byID[card.ID.String()] = card
	}

	ids := req.CardIDs
	if len(ids) == 0 {
		for _, card := range search.Cards {
			ids = append(ids, card.ID.String())
		}
	} else {
		// silently dropping unknown ids would mask console bugs
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := byID[id]; ok {
				kept = append(kept, id)
			}
		}
		ids = kept
	}

	return services.TransferParams{
		CardIDs:     ids,
		Cards:       byID,
		Pipes:       search.pipes,
		Source:      search.source,
		Dest:        dest,
		GrantAccess: req.GrantAccess,
		Operator:    req.Operator,
	}
}

func (s *Server) runTransfer(ctx context.Context, runID string, params services.TransferParams) {
	events := make(chan transfer.Progress, 16)
	done := make(chan struct{})
	go func() {
		s.registry.Drain(runID, events)
		close(done)
	}()

	result, historyRun, err := s.svc.Transfer(ctx, params, events)
	close(events)
	<-done

	s.registry.Finish(runID, func(r *Run) {
		if err != nil {
			r.State = StateFailed
			r.Error = err.Error()
			return
		}
		r.State = StateDone
		r.Result = result
		r.HistoryRun = historyRun
		dest := params.Dest
		r.dest = &dest
	})

	if err == nil && s.webhooks != nil {
		s.webhooks.NotifyRunCompleted(ctx, s.cfg.Upstream.WebhookURLs, historyRun)
	}
}

// StartVerify re-checks a finished transfer run and returns a verify run id.
// (POST /api/v1/transfers/:id/verify)
func (s *Server) StartVerify(c echo.Context) error {
	transferRun, ok := s.registry.Snapshot(c.Param("id"))
	if !ok || transferRun.Kind != KindTransfer {
		return problem(c, http.StatusNotFound, "Transfer not found", "no transfer run with id "+c.Param("id"))
	}
	if transferRun.State != StateDone || transferRun.Result == nil || transferRun.dest == nil {
		return problem(c, http.StatusConflict, "Transfer not finished", "verification needs a completed transfer")
	}

	run := s.registry.Create(KindVerify)
	go s.runVerify(context.Background(), run.ID, transferRun.Result, *transferRun.dest)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func (s *Server) runVerify(ctx context.Context, runID string, result *transfer.BatchResult, dest pipefy.Member) {
	events := make(chan transfer.Progress, 16)
	done := make(chan struct{})
	go func() {
		s.registry.Drain(runID, events)
		close(done)
	}()

	items, err := s.svc.Verify(ctx, result, dest, events)
	close(events)
	<-done

	s.registry.Finish(runID, func(r *Run) {
		if err != nil {
			r.State = StateFailed
			r.Error = err.Error()
			return
		}
		r.State = StateDone
		r.Verification = items
	})
}

// ListHistory returns recent completed runs from the durable store.
// (GET /api/v1/history?limit=20)
func (s *Server) ListHistory(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return problem(c, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
		}
		limit = n
	}

	runs, err := s.svc.History(ctx, limit)
	if err != nil {
		return problem(c, http.StatusInternalServerError, "History unavailable", err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// ListHistoryItems returns the per-card outcomes of one stored run.
// (GET /api/v1/history/:id/items)
func (s *Server) ListHistoryItems(c echo.Context) error {
	ctx := c.Request().Context()

	items, err := s.svc.HistoryItems(ctx, c.Param("id"))
	if err != nil {
		return problem(c, http.StatusInternalServerError, "History unavailable", err.Error())
	}
	return c.JSON(http.StatusOK, items)
}
