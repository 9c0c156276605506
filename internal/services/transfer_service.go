package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cardshift/backend/internal/config"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/repository"
	"cardshift/backend/internal/transfer"
	"cardshift/backend/pkg/models"
)

// SearchSubject selects whose cards a search looks for. Either Unassigned is
// set, or one of MemberID / MemberEmail identifies the subject.
type SearchSubject struct {
	Unassigned  bool   `json:"unassigned"`
	MemberID    string `json:"member_id"`
	MemberEmail string `json:"member_email"`
}

// TransferParams describes one reassignment run as the console submits it.
type TransferParams struct {
	CardIDs     []string
	Cards       map[string]pipefy.Card
	Pipes       []pipefy.Pipe
	Source      *pipefy.Member
	Dest        pipefy.Member
	GrantAccess bool
	Operator    string
}

// TransferService orchestrates the transfer core: it resolves credentials
// and members, runs search/transfer/verify, keeps the pipe/member cache
// fresh, and appends completed runs to the history store.
type TransferService struct {
	upstream Upstream
	locator  *transfer.Locator
	engine   *transfer.Engine
	verifier *transfer.Verifier
	history  repository.HistoryStore
	conns    repository.ConnectionStore
	cache    *repository.RedisCache
	cfg      *config.Config
	logger   *logging.Logger
	runs     metric.Int64Counter
}

// NewTransferService creates a new TransferService.
func NewTransferService(
	upstream Upstream,
	history repository.HistoryStore,
	conns repository.ConnectionStore,
	cache *repository.RedisCache,
	cfg *config.Config,
	logger *logging.Logger,
) *TransferService {
	meter := otel.Meter("cardshift/backend/transfer")
	runs, err := meter.Int64Counter("transfer_runs_total",
		metric.WithDescription("Completed bulk reassignment runs"))
	if err != nil && logger != nil {
		logger.Warn("metric registration failed", "error", err.Error())
	}

	return &TransferService{
		upstream: upstream,
		locator:  transfer.NewLocator(upstream, logger),
		engine:   transfer.NewEngine(upstream, logger),
		verifier: transfer.NewVerifier(upstream, cfg.Upstream.VerifyBatchSize, cfg.Upstream.VerifyDelay, logger),
		history:  history,
		conns:    conns,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		runs:     runs,
	}
}

// Connect validates the credential against the upstream and stores it as the
// active connection.
func (s *TransferService) Connect(ctx context.Context, token, orgID string) (*models.Connection, error) {
	me, err := s.upstream.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}

	conn := &models.Connection{
		OrganizationID: orgID,
		Token:          token,
		AccountEmail:   me.Email,
	}
	if s.conns != nil {
		if err := s.conns.SaveConnection(ctx, conn); err != nil {
			return nil, fmt.Errorf("storing connection: %w", err)
		}
	}
	if s.cache != nil {
		// a new credential may see different pipes and members
		_ = s.cache.Invalidate(ctx)
	}

	s.logger.Info("connected to upstream", "account", me.Email, "organization", orgID)
	return conn, nil
}

// Credentials returns the active token and organization, preferring the
// stored connection over the config fallback.
func (s *TransferService) Credentials(ctx context.Context) (token, orgID string, err error) {
	if s.conns != nil {
		conn, err := s.conns.GetConnection(ctx)
		if err != nil {
			return "", "", err
		}
		if conn != nil {
			return conn.Token, conn.OrganizationID, nil
		}
	}
	if s.cfg.Upstream.Token != "" {
		return s.cfg.Upstream.Token, s.cfg.Upstream.OrganizationID, nil
	}
	return "", "", errors.New("no upstream connection configured")
}

// Pipes returns the organization's pipes, served from cache unless refresh
// is set or the cache is cold.
func (s *TransferService) Pipes(ctx context.Context, refresh bool) ([]pipefy.Pipe, error) {
	if !refresh && s.cache != nil {
		if pipes, err := s.cache.Pipes(ctx); err == nil {
			return pipes, nil
		}
	}

	token, orgID, err := s.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	pipes, err := s.upstream.OrganizationPipes(ctx, token, orgID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetPipes(ctx, pipes); err != nil {
			s.logger.Warn("pipe cache write failed", "error", err.Error())
		}
	}
	return pipes, nil
}

// Members returns the organization's members, optionally narrowed by a fuzzy
// query over name and email.
func (s *TransferService) Members(ctx context.Context, refresh bool, query string) ([]pipefy.Member, error) {
	var members []pipefy.Member
	var err error

	if !refresh && s.cache != nil {
		members, err = s.cache.Members(ctx)
	}
	if refresh || err != nil || members == nil {
		token, orgID, err := s.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		members, err = s.upstream.OrganizationMembers(ctx, token, orgID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetMembers(ctx, members); err != nil {
				s.logger.Warn("member cache write failed", "error", err.Error())
			}
		}
	}

	return filterMembers(members, query), nil
}

// ResolveSubject turns a search subject into a member, using the cached
// member list for ids and the upstream email lookup otherwise.
func (s *TransferService) ResolveSubject(ctx context.Context, subject SearchSubject) (*pipefy.Member, error) {
	if subject.MemberID != "" {
		members, err := s.Members(ctx, false, "")
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.ID.String() == subject.MemberID {
				member := m
				return &member, nil
			}
		}
		return nil, fmt.Errorf("no member with id %s", subject.MemberID)
	}

	if subject.MemberEmail != "" {
		token, _, err := s.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		return s.upstream.FindUserByEmail(ctx, token, subject.MemberEmail)
	}

	return nil, errors.New("search subject names no member")
}

// Search locates matching cards across the selected pipes and returns them
// together with the pipes involved (the transfer step needs their schemas).
func (s *TransferService) Search(ctx context.Context, pipeIDs []string, subject SearchSubject, events chan<- transfer.Progress) ([]pipefy.Card, []pipefy.Pipe, error) {
	token, _, err := s.Credentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	all, err := s.Pipes(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	selected := selectPipes(all, pipeIDs)
	if len(selected) == 0 {
		return nil, nil, errors.New("no matching pipes selected")
	}

	filter := transfer.Filter{Unassigned: subject.Unassigned}
	if !subject.Unassigned {
		member, err := s.ResolveSubject(ctx, subject)
		if err != nil {
			return nil, nil, err
		}
		filter.Member = member
	}

	cards, err := s.locator.Search(ctx, token, selected, filter, events)
	if err != nil {
		return nil, nil, err
	}
	return cards, selected, nil
}

// Transfer runs the batch engine and appends the outcome to the history.
func (s *TransferService) Transfer(ctx context.Context, params TransferParams, events chan<- transfer.Progress) (*transfer.BatchResult, *models.TransferRun, error) {
	token, _, err := s.Credentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	req := transfer.Request{
		CardIDs:    params.CardIDs,
		Source:     params.Source,
		Dest:       params.Dest,
		Cards:      params.Cards,
		Pipes:      params.Pipes,
		BatchSize:  s.cfg.Upstream.BatchSize,
		ChunkDelay: s.cfg.Upstream.ChunkDelay,
	}
	if params.GrantAccess && len(params.Pipes) > 0 {
		req.GrantAccessPipeID = params.Pipes[0].ID.String()
	}

	result, err := s.engine.Transfer(ctx, token, req, events)
	if err != nil {
		return nil, nil, err
	}

	run := s.recordRun(ctx, params, result)

	s.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("fully_succeeded", len(result.Failed) == 0),
	))

	return result, run, nil
}

func (s *TransferService) recordRun(ctx context.Context, params TransferParams, result *transfer.BatchResult) *models.TransferRun {
	run := &models.TransferRun{
		DestEmail:      params.Dest.Email,
		DestID:         params.Dest.ID.String(),
		TotalCards:     len(params.CardIDs),
		SucceededCards: len(result.Succeeded),
		FailedCards:    len(result.Failed),
		AccessGranted:  result.AccessGranted,
		Operator:       params.Operator,
	}
	if params.Source != nil {
		run.SourceEmail = params.Source.Email
		run.SourceID = params.Source.ID.String()
	}
	for _, p := range params.Pipes {
		run.PipeNames = append(run.PipeNames, p.Name)
	}

	items := make([]models.TransferRunItem, 0, len(result.Succeeded)+len(result.Failed))
	for _, id := range result.Succeeded {
		title := ""
		if c, ok := params.Cards[id]; ok {
			title = c.Title
		}
		items = append(items, models.TransferRunItem{CardID: id, CardTitle: title, Outcome: models.OutcomeSucceeded})
	}
	for _, f := range result.Failed {
		items = append(items, models.TransferRunItem{CardID: f.CardID, CardTitle: f.Title, Outcome: models.OutcomeFailed, Detail: f.Reason})
	}

	if s.history != nil {
		if err := s.history.SaveRun(ctx, run, items); err != nil {
			// history is advisory; a failed write must not fail the run
			s.logger.Error("history write failed", "error", err.Error())
		}
	}
	return run
}

// Verify re-fetches the succeeded cards and classifies every card of the run.
func (s *TransferService) Verify(ctx context.Context, result *transfer.BatchResult, dest pipefy.Member, events chan<- transfer.Progress) ([]transfer.VerificationItem, error) {
	token, _, err := s.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	fetched := s.verifier.VerifyAll(ctx, token, result.Succeeded, events)
	return transfer.Classify(result, fetched, dest), nil
}

// ReverifyCard re-checks one card on operator demand.
func (s *TransferService) ReverifyCard(ctx context.Context, cardID string, dest pipefy.Member) (transfer.VerificationItem, error) {
	token, _, err := s.Credentials(ctx)
	if err != nil {
		return transfer.VerificationItem{}, err
	}
	return s.verifier.Reverify(ctx, token, cardID, dest), nil
}

// History lists recent runs.
func (s *TransferService) History(ctx context.Context, limit int) ([]models.TransferRun, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListRuns(ctx, limit)
}

// HistoryItems lists the per-card outcomes of one run.
func (s *TransferService) HistoryItems(ctx context.Context, runID string) ([]models.TransferRunItem, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.RunItems(ctx, runID)
}

func selectPipes(all []pipefy.Pipe, ids []string) []pipefy.Pipe {
	if len(ids) == 0 {
		return all
	}
	// preserve caller-supplied order
	out := make([]pipefy.Pipe, 0, len(ids))
	for _, id := range ids {
		for _, p := range all {
			if p.ID.String() == id {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
