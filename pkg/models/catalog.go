package models

import "encoding/json"

// Integration auth types.
const (
	AuthTypeAPIKey = "api_key"
	AuthTypeBearer = "bearer"
	AuthTypeNone   = "none"
)

// Agent is a tenant's published voice agent, routed by phone number.
type Agent struct {
	ID                 string  `json:"id"`
	TenantID           string  `json:"tenant_id"`
	Name               string  `json:"name"`
	PhoneNumber        string  `json:"phone_number"`
	Greeting           string  `json:"greeting"`
	Active             bool    `json:"active"`
	PublishedVersionID *string `json:"published_version_id,omitempty"`
}

// AgentVersion is one immutable revision of an agent's behavior.
type AgentVersion struct {
	ID           string `json:"id"`
	AgentID      string `json:"agent_id"`
	Version      int    `json:"version"`
	SystemPrompt string `json:"system_prompt"`
	Status       string `json:"status"`
}

// Tool is a callable capability mapped to agent versions. InputSchema is
// the stored JSON-schema subset definition its inputs are validated
// against before any outbound request.
type Tool struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	EndpointID  string          `json:"endpoint_id"`
	TimeoutMs   int             `json:"timeout_ms"`
	MaxRetries  int             `json:"max_retries"`
}

// ToolEndpoint describes where and how a tool's HTTP request is sent.
// HeaderTemplate scalars overlay the integration auth header.
type ToolEndpoint struct {
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	URL            string          `json:"url"`
	HeaderTemplate json.RawMessage `json:"header_template,omitempty"`
	IntegrationID  *string         `json:"integration_id,omitempty"`
}

// TenantIntegration holds a tenant's credentials for outbound tool
// calls. AuthSecret is stored encrypted (v1 AES-GCM envelope) and is
// decrypted only at request-build time.
type TenantIntegration struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Name       string `json:"name"`
	AuthType   string `json:"auth_type"`
	AuthHeader string `json:"auth_header"`
	AuthSecret string `json:"-"`
	Active     bool   `json:"active"`
}

// ResolvedTool bundles a tool with its endpoint and (optional)
// integration, as resolved for one call's published agent version.
type ResolvedTool struct {
	Tool        Tool
	Endpoint    ToolEndpoint
	Integration *TenantIntegration
}
