package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// The catalog tables are written by the management plane; the runtime
// only reads them. Queries here take tenant and agent ids from the call
// row, never from caller input, so tenancy is enforced structurally.

// GetAgentByPhoneNumber routes an inbound call to its active agent.
// Inactive agents are invisible: the webhook plays the no-agent message.
func (s *Store) GetAgentByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Agent, error) {
	var a models.Agent
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, phone_number, greeting, active, published_version_id
		FROM agents
		WHERE phone_number = $1 AND active`, phoneNumber)
	if err := scanAgent(row, &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent by phone: %w", err)
	}
	return &a, nil
}

// GetAgent loads one agent by id, active or not.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, phone_number, greeting, active, published_version_id
		FROM agents WHERE id = $1`, id)
	if err := scanAgent(row, &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// GetAgentVersion loads one immutable agent revision.
func (s *Store) GetAgentVersion(ctx context.Context, id string) (*models.AgentVersion, error) {
	var v models.AgentVersion
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, version, system_prompt, status
		FROM agent_versions WHERE id = $1`, id).
		Scan(&v.ID, &v.AgentID, &v.Version, &v.SystemPrompt, &v.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent version: %w", err)
	}
	return &v, nil
}

// ResolveToolInput identifies one tool invocation to resolve.
type ResolveToolInput struct {
	TenantID string
	AgentID  string
	ToolName string

	// RequireAgentMapping restricts resolution to tools mapped onto the
	// agent's published version. When false, any tenant tool resolves.
	RequireAgentMapping bool
}

// ResolveTool joins the tool, its endpoint, and the endpoint's
// integration (when one is attached) for a single invocation. Returns
// ErrNotFound when the tool does not exist for the tenant, is not
// mapped to the agent's published version (when required), or its
// integration has been deactivated.
func (s *Store) ResolveTool(ctx context.Context, in ResolveToolInput) (*models.ResolvedTool, error) {
	query := `
		SELECT t.id, t.tenant_id, t.name, t.description, t.input_schema,
		       t.endpoint_id, t.timeout_ms, t.max_retries,
		       e.id, e.method, e.url, e.header_template, e.integration_id
		FROM tools t
		JOIN tool_endpoints e ON e.id = t.endpoint_id
		WHERE t.tenant_id = $1 AND t.name = $2`
	args := []any{in.TenantID, in.ToolName}
	if in.RequireAgentMapping {
		query += `
		  AND EXISTS (
			SELECT 1 FROM agent_tools at
			JOIN agents a ON a.published_version_id = at.version_id
			WHERE a.id = $3 AND at.tool_id = t.id)`
		args = append(args, in.AgentID)
	}

	var rt models.ResolvedTool
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&rt.Tool.ID, &rt.Tool.TenantID, &rt.Tool.Name, &rt.Tool.Description,
		&rt.Tool.InputSchema, &rt.Tool.EndpointID, &rt.Tool.TimeoutMs, &rt.Tool.MaxRetries,
		&rt.Endpoint.ID, &rt.Endpoint.Method, &rt.Endpoint.URL,
		&rt.Endpoint.HeaderTemplate, &rt.Endpoint.IntegrationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve tool: %w", err)
	}

	if rt.Endpoint.IntegrationID != nil {
		var ti models.TenantIntegration
		err := s.pool.QueryRow(ctx, `
			SELECT id, tenant_id, name, auth_type, auth_header, auth_secret, active
			FROM tenant_integrations WHERE id = $1`, *rt.Endpoint.IntegrationID).
			Scan(&ti.ID, &ti.TenantID, &ti.Name, &ti.AuthType, &ti.AuthHeader, &ti.AuthSecret, &ti.Active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("resolve integration: %w", err)
		}
		if !ti.Active {
			return nil, ErrNotFound
		}
		rt.Integration = &ti
	}
	return &rt, nil
}

// ListToolsForAgent returns the tools exposed to the LLM chooser for a
// call's agent: the tools mapped to the agent's published version, or
// all tenant tools when mapping is not required.
func (s *Store) ListToolsForAgent(ctx context.Context, tenantID, agentID string, requireMapping bool) ([]models.Tool, error) {
	query := `
		SELECT t.id, t.tenant_id, t.name, t.description, t.input_schema,
		       t.endpoint_id, t.timeout_ms, t.max_retries
		FROM tools t
		WHERE t.tenant_id = $1`
	args := []any{tenantID}
	if requireMapping {
		query += `
		  AND EXISTS (
			SELECT 1 FROM agent_tools at
			JOIN agents a ON a.published_version_id = at.version_id
			WHERE a.id = $2 AND at.tool_id = t.id)`
		args = append(args, agentID)
	}
	query += ` ORDER BY t.name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []models.Tool
	for rows.Next() {
		var t models.Tool
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Description,
			&t.InputSchema, &t.EndpointID, &t.TimeoutMs, &t.MaxRetries); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func scanAgent(row pgx.Row, a *models.Agent) error {
	return row.Scan(&a.ID, &a.TenantID, &a.Name, &a.PhoneNumber,
		&a.Greeting, &a.Active, &a.PublishedVersionID)
}
