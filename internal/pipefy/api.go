package pipefy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CurrentUser validates the credential by fetching the account it belongs to.
func (c *Client) CurrentUser(ctx context.Context, token string) (*Member, error) {
	var out struct {
		Me *Member `json:"me"`
	}
	if err := c.Execute(ctx, token, queryCurrentUser, nil, &out); err != nil {
		return nil, err
	}
	if out.Me == nil {
		return nil, errors.New("upstream returned no account for this credential")
	}
	return out.Me, nil
}

// OrganizationMembers lists the members of one organization.
func (c *Client) OrganizationMembers(ctx context.Context, token, orgID string) ([]Member, error) {
	var out struct {
		Organization struct {
			Members []struct {
				RoleName string `json:"role_name"`
				User     Member `json:"user"`
			} `json:"members"`
		} `json:"organization"`
	}
	if err := c.Execute(ctx, token, queryOrganizationMembers, map[string]any{"orgId": orgID}, &out); err != nil {
		return nil, fmt.Errorf("fetching members of organization %s: %w", orgID, err)
	}
	members := make([]Member, 0, len(out.Organization.Members))
	for _, m := range out.Organization.Members {
		members = append(members, m.User)
	}
	return members, nil
}

// OrganizationPipes lists the pipes of one organization including each
// phase's field schema, which the field-id resolver feeds on.
func (c *Client) OrganizationPipes(ctx context.Context, token, orgID string) ([]Pipe, error) {
	var out struct {
		Organization struct {
			Pipes []Pipe `json:"pipes"`
		} `json:"organization"`
	}
	if err := c.Execute(ctx, token, queryOrganizationPipes, map[string]any{"orgId": orgID}, &out); err != nil {
		return nil, fmt.Errorf("fetching pipes of organization %s: %w", orgID, err)
	}
	return out.Organization.Pipes, nil
}

// FindUserByEmail resolves a member by email. The direct lookup is not
// available to every account plan, so on a structured error it falls back to
// scanning the member lists of every organization the credential can see.
func (c *Client) FindUserByEmail(ctx context.Context, token, email string) (*Member, error) {
	var out struct {
		FindUser *Member `json:"findUser"`
	}
	err := c.Execute(ctx, token, queryFindUser, map[string]any{"email": email}, &out)
	if err == nil && out.FindUser != nil {
		return out.FindUser, nil
	}

	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		return nil, err
	}

	var scan struct {
		Organizations []struct {
			ID      FlexID `json:"id"`
			Members []struct {
				User Member `json:"user"`
			} `json:"members"`
		} `json:"organizations"`
	}
	if err := c.Execute(ctx, token, queryAllOrganizationsMembers, nil, &scan); err != nil {
		return nil, fmt.Errorf("scanning organizations for %s: %w", email, err)
	}

	needle := strings.ToLower(strings.TrimSpace(email))
	for _, org := range scan.Organizations {
		for _, m := range org.Members {
			if strings.ToLower(strings.TrimSpace(m.User.Email)) == needle {
				user := m.User
				return &user, nil
			}
		}
	}
	return nil, fmt.Errorf("no member with email %s", email)
}

// UpdateCardFields sends one aliased multi-mutation updating every queued
// card field, optionally preceded by an invite granting the destination
// member access to the pipe. A card succeeds only if its alias reports
// success; absent or failed aliases are attributed the most specific message
// from the structured error list.
func (c *Client) UpdateCardFields(ctx context.Context, token string, updates []FieldUpdate, invite *InviteInput) (*UpdateOutcome, error) {
	if len(updates) == 0 {
		return &UpdateOutcome{Failed: map[string]string{}}, nil
	}

	var b strings.Builder
	b.WriteString("mutation {\n")
	if invite != nil {
		fmt.Fprintf(&b, "  grantAccess: invitePipeMember(input: {pipe_id: %s, email: %s, role_name: \"member\"}) { clientMutationId }\n",
			quote(invite.PipeID), quote(invite.Email))
	}
	for i, u := range updates {
		fmt.Fprintf(&b, "  u%d: updateCardField(input: {card_id: %s, field_id: %s, new_value: %s}) { success }\n",
			i, quote(u.CardID), quote(u.FieldID), quoteList(u.Values))
	}
	b.WriteString("}")

	data, gqlErrs, err := c.executeRaw(ctx, token, b.String(), nil)
	if err != nil {
		return nil, err
	}

	var aliases map[string]json.RawMessage
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &aliases); err != nil {
			return nil, fmt.Errorf("decoding batch response: %w", err)
		}
	}

	outcome := &UpdateOutcome{Failed: map[string]string{}}
	for i, u := range updates {
		alias := fmt.Sprintf("u%d", i)
		raw, ok := aliases[alias]
		if !ok || string(raw) == "null" {
			outcome.Failed[u.CardID] = errorForAlias(gqlErrs, alias)
			continue
		}
		var res struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(raw, &res); err != nil || !res.Success {
			outcome.Failed[u.CardID] = errorForAlias(gqlErrs, alias)
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, u.CardID)
	}

	if invite != nil {
		raw, ok := aliases["grantAccess"]
		outcome.AccessGranted = ok && string(raw) != "null"
	}

	return outcome, nil
}

// errorForAlias extracts the message whose path points at the given alias,
// falling back to the first message, then to a generic one.
func errorForAlias(errs []graphqlError, alias string) string {
	for _, e := range errs {
		for _, p := range e.Path {
			if s, ok := p.(string); ok && s == alias {
				return e.Message
			}
		}
	}
	if len(errs) > 0 {
		return errs[0].Message
	}
	return "update rejected by upstream"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func quoteList(values []string) string {
	b, _ := json.Marshal(values)
	return string(b)
}
