package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardshift/backend/internal/config"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/services"
)

type stubUpstream struct {
	members    []pipefy.Member
	pipes      []pipefy.Pipe
	phaseCards map[string][]pipefy.Card
	cards      map[string]pipefy.Card
}

func (f *stubUpstream) CurrentUser(ctx context.Context, token string) (*pipefy.Member, error) {
	if token != "good-token" {
		return nil, pipefy.ErrUnauthorized
	}
	m := f.members[0]
	return &m, nil
}

func (f *stubUpstream) OrganizationMembers(ctx context.Context, token, orgID string) ([]pipefy.Member, error) {
	return f.members, nil
}

func (f *stubUpstream) OrganizationPipes(ctx context.Context, token, orgID string) ([]pipefy.Pipe, error) {
	return f.pipes, nil
}

func (f *stubUpstream) FindUserByEmail(ctx context.Context, token, email string) (*pipefy.Member, error) {
	for _, m := range f.members {
		if strings.EqualFold(m.Email, email) {
			member := m
			return &member, nil
		}
	}
	return nil, &pipefy.APIError{Messages: []string{"user not found"}}
}

func (f *stubUpstream) CardsInPhase(ctx context.Context, token, phaseID string) ([]pipefy.Card, error) {
	return f.phaseCards[phaseID], nil
}

func (f *stubUpstream) CardByID(ctx context.Context, token, cardID string) (*pipefy.Card, error) {
	if c, ok := f.cards[cardID]; ok {
		card := c
		return &card, nil
	}
	return nil, &pipefy.APIError{Messages: []string{"card not found"}}
}

func (f *stubUpstream) UpdateCardFields(ctx context.Context, token string, updates []pipefy.FieldUpdate, invite *pipefy.InviteInput) (*pipefy.UpdateOutcome, error) {
	out := &pipefy.UpdateOutcome{Failed: map[string]string{}}
	for _, u := range updates {
		out.Succeeded = append(out.Succeeded, u.CardID)
		if card, ok := f.cards[u.CardID]; ok {
			raw, _ := json.Marshal(u.Values)
			v := string(raw)
			for i := range card.Fields {
				if card.Fields[i].FieldID == u.FieldID {
					card.Fields[i].Value = &v
				}
			}
			f.cards[u.CardID] = card
		}
	}
	return out, nil
}

func (f *stubUpstream) PostJSON(ctx context.Context, url string, payload any) (int, error) {
	return 200, nil
}

func flexID(id string) pipefy.FlexID {
	var fid pipefy.FlexID
	_ = fid.UnmarshalJSON([]byte(`"` + id + `"`))
	return fid
}

func newTestServer(t *testing.T) (*Server, *echo.Echo, *stubUpstream) {
	t.Helper()

	value := `["10"]`
	card := pipefy.Card{
		ID:      flexID("100"),
		Title:   "renew contract",
		PhaseID: "p1",
		Fields: []pipefy.CardField{
			{FieldID: "responsavel_pela_etapa", Name: "Responsável pela etapa", Value: &value},
		},
	}

	up := &stubUpstream{
		members: []pipefy.Member{
			{ID: flexID("10"), Name: "Alice Antunes", Email: "alice@acme.com"},
			{ID: flexID("11"), Name: "Bruno Braga", Email: "bruno@acme.com"},
		},
		pipes: []pipefy.Pipe{
			{ID: flexID("1"), Name: "Support", Phases: []pipefy.Phase{
				{ID: flexID("p1"), Name: "Intake", Fields: []pipefy.PhaseField{
					{ID: "responsavel_pela_etapa", Label: "Responsável pela etapa"},
				}},
			}},
		},
		phaseCards: map[string][]pipefy.Card{"p1": {card}},
		cards:      map[string]pipefy.Card{"100": card},
	}

	cfg := &config.Config{}
	cfg.Upstream.Token = "good-token"
	cfg.Upstream.OrganizationID = "42"
	cfg.Upstream.BatchSize = 50
	cfg.Upstream.VerifyBatchSize = 20

	logger := logging.NewLogger()
	svc := services.NewTransferService(up, nil, nil, nil, cfg, logger)
	srv := NewServer(svc, services.NewWebhookRunner(up, logger), cfg, logger)

	e := echo.New()
	srv.Register(e.Group("/api/v1"))
	e.GET("/healthz", HandleHealth)
	return srv, e, up
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func waitForRun(t *testing.T, e *echo.Echo, runID string) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/v1/runs/"+runID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
			return false
		}
		return run.State != StateRunning
	}, 2*time.Second, 10*time.Millisecond)
	return run
}

func TestHealthz(t *testing.T) {
	_, e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateConnection(t *testing.T) {
	_, e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/connections", `{"token":"good-token","organization_id":"42"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice@acme.com")
	// token never echoes back
	assert.NotContains(t, rec.Body.String(), "good-token")

	rec = doJSON(e, http.MethodPost, "/api/v1/connections", `{"token":"bad","organization_id":"42"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
}

func TestSearchValidation(t *testing.T) {
	_, e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/searches", `{"pipe_ids":["1"],"subject":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchTransferVerifyRoundTrip(t *testing.T) {
	_, e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/searches",
		`{"pipe_ids":["1"],"subject":{"member_email":"alice@acme.com"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	search := waitForRun(t, e, accepted["run_id"])
	require.Equal(t, StateDone, search.State)
	require.Len(t, search.Cards, 1)
	assert.Equal(t, "renew contract", search.Cards[0].Title)

	rec = doJSON(e, http.MethodPost, "/api/v1/transfers",
		`{"search_run_id":"`+search.ID+`","dest_email":"bruno@acme.com","operator":"ops@acme.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	xfer := waitForRun(t, e, accepted["run_id"])
	require.Equal(t, StateDone, xfer.State)
	require.NotNil(t, xfer.Result)
	assert.Equal(t, []string{"100"}, xfer.Result.Succeeded)

	rec = doJSON(e, http.MethodPost, "/api/v1/transfers/"+xfer.ID+"/verify", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	verify := waitForRun(t, e, accepted["run_id"])
	require.Equal(t, StateDone, verify.State)
	require.Len(t, verify.Verification, 1)
	assert.Equal(t, "confirmed", string(verify.Verification[0].Status))
}

func TestTransferRequiresFinishedSearch(t *testing.T) {
	srv, e, _ := newTestServer(t)

	pending := srv.registry.Create(KindSearch)
	rec := doJSON(e, http.MethodPost, "/api/v1/transfers",
		`{"search_run_id":"`+pending.ID+`","dest_email":"bruno@acme.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/transfers",
		`{"search_run_id":"missing","dest_email":"bruno@acme.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	_, e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
