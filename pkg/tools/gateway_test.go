package tools_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/models"
	"github.com/vocero-ai/vocero/pkg/secrets"
	"github.com/vocero-ai/vocero/pkg/store"
	"github.com/vocero-ai/vocero/pkg/tools"
	util "github.com/vocero-ai/vocero/test/util"
)

var testMetrics = metrics.New()

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type gatewayFixture struct {
	gateway *tools.Gateway
	store   *store.Store
	cfg     *config.ToolsConfig
	key     []byte
	call    *models.Call
}

func setupGateway(t *testing.T, mutate func(*config.ToolsConfig)) *gatewayFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	st := store.New(util.SetupTestDatabase(t))
	cfg := config.DefaultToolsConfig()
	if mutate != nil {
		mutate(cfg)
	}
	key, err := secrets.ParseKey(testKeyHex)
	require.NoError(t, err)

	call, err := st.CreateCall(context.Background(), store.CreateCallInput{
		TenantID: "tenant-1", AgentID: "agent-1",
		TwilioCallSID: "CA-tools", Room: "room-1",
	})
	require.NoError(t, err)

	return &gatewayFixture{
		gateway: tools.NewGateway(st, cfg, testMetrics, key),
		store:   st,
		cfg:     cfg,
		key:     key,
		call:    call,
	}
}

type toolSeed struct {
	Name       string
	Method     string
	URL        string
	Schema     string
	TimeoutMs  int
	MaxRetries int
	AuthType   string // empty = no integration
	AuthHeader string
	Secret     string
	HeaderTmpl string
	Mapped     bool
}

func (f *gatewayFixture) seedTool(t *testing.T, s toolSeed) {
	t.Helper()
	ctx := context.Background()
	pool := f.store.Pool()

	var integrationID *string
	if s.AuthType != "" {
		sealed, err := secrets.Encrypt(f.key, s.Secret)
		require.NoError(t, err)
		id := "int-" + s.Name
		_, err = pool.Exec(ctx, `
			INSERT INTO tenant_integrations (id, tenant_id, name, auth_type, auth_header, auth_secret, active)
			VALUES ($1, 'tenant-1', $2, $3, $4, $5, TRUE)`,
			id, s.Name, s.AuthType, s.AuthHeader, sealed)
		require.NoError(t, err)
		integrationID = &id
	}

	var headerTmpl any
	if s.HeaderTmpl != "" {
		headerTmpl = s.HeaderTmpl
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO tool_endpoints (id, method, url, header_template, integration_id)
		VALUES ($1, $2, $3, $4, $5)`,
		"ep-"+s.Name, s.Method, s.URL, headerTmpl, integrationID)
	require.NoError(t, err)

	if s.Schema == "" {
		s.Schema = `{"type":"object"}`
	}
	if s.TimeoutMs == 0 {
		s.TimeoutMs = 5000
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO tools (id, tenant_id, name, description, input_schema, endpoint_id, timeout_ms, max_retries)
		VALUES ($1, 'tenant-1', $2, '', $3, $4, $5, $6)`,
		"tool-"+s.Name, s.Name, s.Schema, "ep-"+s.Name, s.TimeoutMs, s.MaxRetries)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, name, phone_number, greeting, active, published_version_id)
		VALUES ('agent-1', 'tenant-1', 'Sofia', '+5215512345678', '', TRUE, 'ver-1')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO agent_versions (id, agent_id, version, system_prompt, status)
		VALUES ('ver-1', 'agent-1', 1, '', 'published')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	if s.Mapped {
		_, err = pool.Exec(ctx, `
			INSERT INTO agent_tools (version_id, tool_id) VALUES ('ver-1', $1)`, "tool-"+s.Name)
		require.NoError(t, err)
	}
}

func (f *gatewayFixture) execute(t *testing.T, name, input string) (*tools.Result, error) {
	t.Helper()
	return f.gateway.Execute(context.Background(), tools.ExecuteInput{
		CallID:   f.call.ID,
		TenantID: "tenant-1",
		AgentID:  "agent-1",
		ToolName: name,
		Input:    json.RawMessage(input),
	})
}

func (f *gatewayFixture) eventTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.store.ListCallEvents(context.Background(), f.call.ID)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestExecuteSuccess(t *testing.T) {
	f := setupGateway(t, nil)

	var gotAuth, gotChannel, gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotChannel.Store(r.Header.Get("X-Channel"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"ORD-1"}`))
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{
		Name: "crear_pedido", Method: "POST", URL: srv.URL,
		AuthType: models.AuthTypeBearer, Secret: "crm-secret",
		HeaderTmpl: `{"X-Channel":"voice"}`, Mapped: true,
	})

	res, err := f.execute(t, "crear_pedido", `{"producto":"tacos"}`)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.JSONEq(t, `{"order_id":"ORD-1"}`, string(res.Response))
	assert.Equal(t, "Bearer crm-secret", gotAuth.Load())
	assert.Equal(t, "voice", gotChannel.Load())
	assert.JSONEq(t, `{"producto":"tacos"}`, gotBody.Load().(string))

	execs, err := f.store.ListToolExecutions(context.Background(), f.call.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ToolExecSuccess, execs[0].Status)
	assert.Contains(t, f.eventTypes(t), models.EventToolExecutionSucceeded)
}

func TestExecuteGETQueryString(t *testing.T) {
	f := setupGateway(t, nil)

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		_, _ = w.Write([]byte(`{"status":"enviado"}`))
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{Name: "estado_pedido", Method: "GET", URL: srv.URL, Mapped: true})

	res, err := f.execute(t, "estado_pedido", `{"id":"42","limite":3,"filtro":{"zona":"norte"}}`)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, "42", q.Get("id"))
	assert.Equal(t, "3", q.Get("limite"))
	assert.JSONEq(t, `{"zona":"norte"}`, q.Get("filtro"))
}

func TestExecuteSchemaValidationFailure(t *testing.T) {
	f := setupGateway(t, nil)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{
		Name: "crear_pedido", Method: "POST", URL: srv.URL, Mapped: true,
		Schema: `{"type":"object","required":["producto"],"properties":{"producto":{"type":"string"}}}`,
	})

	res, err := f.execute(t, "crear_pedido", `{"cantidad":2}`)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, models.ErrCodeSchemaValidation, res.ErrorCode)
	assert.Equal(t, int32(0), calls.Load(), "no outbound request on validation failure")

	execs, err := f.store.ListToolExecutions(context.Background(), f.call.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ToolExecError, execs[0].Status)
	assert.Contains(t, f.eventTypes(t), models.EventToolExecutionFailed)
}

func TestExecuteRateLimited(t *testing.T) {
	f := setupGateway(t, func(c *config.ToolsConfig) { c.ToolsPerMinute = 1 })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	f.seedTool(t, toolSeed{Name: "crear_pedido", Method: "POST", URL: srv.URL, Mapped: true})

	_, err := f.execute(t, "crear_pedido", `{}`)
	require.NoError(t, err)

	_, err = f.execute(t, "crear_pedido", `{}`)
	assert.ErrorIs(t, err, tools.ErrRateLimited)
}

func TestExecuteNotFoundAndForbidden(t *testing.T) {
	f := setupGateway(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	// Exists for the tenant but is not mapped to the published version.
	f.seedTool(t, toolSeed{Name: "sin_mapear", Method: "POST", URL: srv.URL, Mapped: false})

	_, err := f.execute(t, "inexistente", `{}`)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)

	_, err = f.execute(t, "sin_mapear", `{}`)
	assert.ErrorIs(t, err, tools.ErrToolForbidden)
}

func TestExecuteRetriesOnServerError(t *testing.T) {
	f := setupGateway(t, nil)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{Name: "crear_pedido", Method: "POST", URL: srv.URL, MaxRetries: 2, Mapped: true})

	res, err := f.execute(t, "crear_pedido", `{}`)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteClientErrorDoesNotRetry(t *testing.T) {
	f := setupGateway(t, nil)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such order"}`))
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{Name: "estado_pedido", Method: "POST", URL: srv.URL, MaxRetries: 3, Mapped: true})

	res, err := f.execute(t, "estado_pedido", `{}`)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "http_status_404", res.ErrorCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteTimeout(t *testing.T) {
	f := setupGateway(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f.seedTool(t, toolSeed{Name: "lenta", Method: "POST", URL: srv.URL, TimeoutMs: 100, Mapped: true})

	res, err := f.execute(t, "lenta", `{}`)
	require.NoError(t, err)
	assert.Equal(t, models.ToolExecTimeout, res.Status)
	assert.Equal(t, models.ErrCodeRequestTimeout, res.ErrorCode)
}

func TestSpeechHelpers(t *testing.T) {
	assert.Equal(t, "He ejecutado la herramienta crear_pedido.", tools.SuccessSpeech("crear_pedido"))
	failure := tools.FailureSpeech("crear_pedido", models.ErrCodeRequestTimeout)
	assert.True(t, strings.Contains(failure, "No pude ejecutar"))
	assert.True(t, strings.Contains(failure, "request_timeout"))
}
