package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/store"
)

func TestCreateCallDuplicateWebhook(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	in := store.CreateCallInput{
		TenantID:      "tenant-1",
		AgentID:       "agent-1",
		TwilioCallSID: "CA-dup",
		Room:          "room-1",
	}
	first, err := s.CreateCall(ctx, in)
	require.NoError(t, err)

	// The carrier retries webhooks; the same CallSid must map to the
	// same call row.
	second, err := s.CreateCall(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.GetCallByTwilioSID(ctx, "CA-dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.GetCallByTwilioSID(ctx, "CA-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEndCallWritesMetrics(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	for _, speaker := range []string{models.SpeakerCaller, models.SpeakerAgent, models.SpeakerCaller} {
		_, err := s.InsertUtterance(ctx, store.InsertUtteranceInput{
			CallID: call.ID, Speaker: speaker, Text: "hola", Confidence: 0.9,
		})
		require.NoError(t, err)
	}
	_, err := s.InsertToolExecution(ctx, store.InsertToolExecutionInput{
		CallID: call.ID, ToolID: "tool-1",
		Request: json.RawMessage(`{"q":"x"}`), Status: models.ToolExecSuccess, LatencyMs: 42,
	})
	require.NoError(t, err)

	ended, err := s.EndCall(ctx, call.ID, models.OutcomeResolved, "")
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.Outcome)
	assert.Equal(t, models.OutcomeResolved, *ended.Outcome)

	m, err := s.GetCallMetrics(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.CallerUtterances)
	assert.Equal(t, 1, m.AgentUtterances)
	assert.Equal(t, 1, m.ToolCalls)
	assert.GreaterOrEqual(t, m.DurationMs, int64(0))
}

func TestEndCallIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	first, err := s.EndCall(ctx, call.ID, models.OutcomeHandoff, "caller asked for a human")
	require.NoError(t, err)

	// The duplicate call_ended event must not move ended_at or erase
	// the recorded outcome.
	second, err := s.EndCall(ctx, call.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt.UnixMicro(), second.EndedAt.UnixMicro())
	require.NotNil(t, second.Outcome)
	assert.Equal(t, models.OutcomeHandoff, *second.Outcome)
	require.NotNil(t, second.HandoffReason)
	assert.Equal(t, "caller asked for a human", *second.HandoffReason)

	_, err = s.EndCall(ctx, uuid.New().String(), "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertUtteranceTimelineSpacing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	caller, err := s.InsertUtterance(ctx, store.InsertUtteranceInput{
		CallID: call.ID, Speaker: models.SpeakerCaller,
		Text: "quiero hablar con soporte", DurationMs: 1800, Confidence: 0.92,
	})
	require.NoError(t, err)
	assert.EqualValues(t, models.UtteranceGapMs, caller.StartMs)
	assert.EqualValues(t, models.UtteranceGapMs+1800, caller.EndMs)

	agent, err := s.InsertUtterance(ctx, store.InsertUtteranceInput{
		CallID: call.ID, Speaker: models.SpeakerAgent,
		Text: "claro, con gusto le ayudo", Confidence: 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, caller.EndMs+models.AgentReplyDelayMs, agent.StartMs)
	// No reported duration: estimated from the text.
	assert.Equal(t, agent.StartMs+models.EstimateDurationMs("claro, con gusto le ayudo"), agent.EndMs)

	next, err := s.InsertUtterance(ctx, store.InsertUtteranceInput{
		CallID: call.ID, Speaker: models.SpeakerCaller, Text: "gracias", DurationMs: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, agent.EndMs+models.UtteranceGapMs, next.StartMs)

	utts, err := s.ListUtterances(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, utts, 3)
	for i := 1; i < len(utts); i++ {
		assert.Greater(t, utts[i].StartMs, utts[i-1].EndMs)
	}
}

func TestCountRecentToolExecutions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	call := seedCall(t, s)

	for i := 0; i < 3; i++ {
		_, err := s.InsertToolExecution(ctx, store.InsertToolExecutionInput{
			CallID: call.ID, ToolID: "tool-1", Status: models.ToolExecSuccess,
		})
		require.NoError(t, err)
	}
	old, err := s.InsertToolExecution(ctx, store.InsertToolExecutionInput{
		CallID: call.ID, ToolID: "tool-1", Status: models.ToolExecError,
		ErrorCode: models.ErrCodeRequestTimeout,
	})
	require.NoError(t, err)
	_, err = s.Pool().Exec(ctx,
		`UPDATE tool_executions SET created_at = now() - interval '2 minutes' WHERE id = $1`, old.ID)
	require.NoError(t, err)

	n, err := s.CountRecentToolExecutions(ctx, call.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	execs, err := s.ListToolExecutions(ctx, call.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 4)
}

// seedCatalog wires one tenant with an integration-backed tool mapped
// onto the agent's published version, plus one unmapped tool.
func seedCatalog(t *testing.T, s *store.Store) (agentID string) {
	t.Helper()
	ctx := context.Background()
	pool := s.Pool()

	_, err := pool.Exec(ctx, `
		INSERT INTO tenant_integrations (id, tenant_id, name, auth_type, auth_header, auth_secret, active)
		VALUES ('int-1', 'tenant-1', 'crm', 'api_key', 'X-Api-Key', 'v1:aaaa:bbbb:cccc', TRUE),
		       ('int-dead', 'tenant-1', 'old-crm', 'bearer', 'Authorization', 'v1:dddd:eeee:ffff', FALSE)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO tool_endpoints (id, method, url, header_template, integration_id)
		VALUES ('ep-1', 'POST', 'https://crm.example.com/orders', '{"X-Channel":"voice"}', 'int-1'),
		       ('ep-2', 'GET', 'https://crm.example.com/status', NULL, NULL),
		       ('ep-dead', 'POST', 'https://old.example.com', NULL, 'int-dead')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO tools (id, tenant_id, name, description, input_schema, endpoint_id, timeout_ms, max_retries)
		VALUES ('tool-1', 'tenant-1', 'crear_pedido', 'crea un pedido', '{"type":"object"}', 'ep-1', 8000, 1),
		       ('tool-2', 'tenant-1', 'estado_pedido', 'consulta estado', '{"type":"object"}', 'ep-2', 5000, 2),
		       ('tool-dead', 'tenant-1', 'herramienta_vieja', '', '{"type":"object"}', 'ep-dead', 5000, 0)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, name, phone_number, greeting, active, published_version_id)
		VALUES ('agent-1', 'tenant-1', 'Sofia', '+5215512345678', 'Hola, soy Sofia.', TRUE, 'ver-1'),
		       ('agent-off', 'tenant-1', 'Apagado', '+5215587654321', '', FALSE, NULL)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO agent_versions (id, agent_id, version, system_prompt, status)
		VALUES ('ver-1', 'agent-1', 1, 'Eres Sofia.', 'published')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO agent_tools (version_id, tool_id) VALUES ('ver-1', 'tool-1')`)
	require.NoError(t, err)
	return "agent-1"
}

func TestGetAgentByPhoneNumber(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedCatalog(t, s)

	agent, err := s.GetAgentByPhoneNumber(ctx, "+5215512345678")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	assert.Equal(t, "Hola, soy Sofia.", agent.Greeting)

	// Inactive agents do not route.
	_, err = s.GetAgentByPhoneNumber(ctx, "+5215587654321")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetAgentByPhoneNumber(ctx, "+10000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveTool(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	agentID := seedCatalog(t, s)

	rt, err := s.ResolveTool(ctx, store.ResolveToolInput{
		TenantID: "tenant-1", AgentID: agentID, ToolName: "crear_pedido",
		RequireAgentMapping: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "tool-1", rt.Tool.ID)
	assert.Equal(t, "POST", rt.Endpoint.Method)
	require.NotNil(t, rt.Integration)
	assert.Equal(t, "X-Api-Key", rt.Integration.AuthHeader)

	// Not mapped to the published version.
	_, err = s.ResolveTool(ctx, store.ResolveToolInput{
		TenantID: "tenant-1", AgentID: agentID, ToolName: "estado_pedido",
		RequireAgentMapping: true,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Without the mapping requirement any tenant tool resolves; this
	// one has no integration attached.
	rt, err = s.ResolveTool(ctx, store.ResolveToolInput{
		TenantID: "tenant-1", AgentID: agentID, ToolName: "estado_pedido",
	})
	require.NoError(t, err)
	assert.Nil(t, rt.Integration)

	// Deactivated integration blocks resolution.
	_, err = s.ResolveTool(ctx, store.ResolveToolInput{
		TenantID: "tenant-1", AgentID: agentID, ToolName: "herramienta_vieja",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Wrong tenant never sees the tool.
	_, err = s.ResolveTool(ctx, store.ResolveToolInput{
		TenantID: "tenant-2", AgentID: agentID, ToolName: "crear_pedido",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListToolsForAgent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	agentID := seedCatalog(t, s)

	mapped, err := s.ListToolsForAgent(ctx, "tenant-1", agentID, true)
	require.NoError(t, err)
	require.Len(t, mapped, 1)
	assert.Equal(t, "crear_pedido", mapped[0].Name)

	all, err := s.ListToolsForAgent(ctx, "tenant-1", agentID, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
