package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vocero-ai/vocero/pkg/llm"
	"github.com/vocero-ai/vocero/pkg/models"
)

// Decision kinds returned by the chooser.
const (
	DecisionResponse = "response"
	DecisionToolCall = "tool_call"
)

// Decision is the chooser's verdict on one user turn: either plain
// response text, or one tool call with its input.
type Decision struct {
	Type      string
	Text      string
	ToolName  string
	InputJSON json.RawMessage
}

const chooserInstructions = `Decide si el turno del usuario requiere ejecutar una herramienta.
Responde ÚNICAMENTE con un objeto JSON, sin texto adicional, con exactamente una de estas dos formas:
{"type":"response","text":"<respuesta hablada al usuario>"}
{"type":"tool_call","tool_name":"<nombre>","input_json":{...}}
Usa "tool_call" solo cuando una de las herramientas listadas resuelve la petición; input_json debe cumplir el esquema de la herramienta.`

// chooserVerdict is the wire shape the model must emit. InputJSON
// tolerates both an inline object and a JSON-encoded string.
type chooserVerdict struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ToolName  string          `json:"tool_name"`
	InputJSON json.RawMessage `json:"input_json"`
}

// ChooseAction asks the model whether a turn should call a tool.
// Anything the model gets wrong (unparseable verdict, unknown tool)
// degrades to a plain response rather than failing the turn.
func ChooseAction(ctx context.Context, client llm.Client, systemPrompt string, available []models.Tool, userText string) Decision {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(chooserInstructions)
	sb.WriteString("\n\nHerramientas disponibles:\n")
	for _, t := range available {
		fmt.Fprintf(&sb, "- %s: %s (esquema: %s)\n", t.Name, t.Description, string(t.InputSchema))
	}

	raw, err := client.Complete(ctx, llm.Request{
		System:   sb.String(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: userText}},
	})
	if err != nil {
		slog.Warn("Tool chooser completion failed, degrading to response", "error", err)
		return Decision{Type: DecisionResponse, Text: ""}
	}

	verdict, ok := parseVerdict(raw)
	if !ok {
		return Decision{Type: DecisionResponse, Text: raw}
	}

	if verdict.Type == DecisionToolCall {
		if !knownTool(available, verdict.ToolName) {
			slog.Warn("Tool chooser picked unknown tool, degrading to response",
				"tool_name", verdict.ToolName)
			return Decision{Type: DecisionResponse, Text: verdict.Text}
		}
		input := normalizeInput(verdict.InputJSON)
		return Decision{Type: DecisionToolCall, ToolName: verdict.ToolName, InputJSON: input}
	}
	return Decision{Type: DecisionResponse, Text: verdict.Text}
}

// parseVerdict extracts the JSON object, tolerating models that wrap it
// in fences or prose.
func parseVerdict(raw string) (*chooserVerdict, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var v chooserVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, false
	}
	if v.Type != DecisionResponse && v.Type != DecisionToolCall {
		return nil, false
	}
	if v.Type == DecisionToolCall && v.ToolName == "" {
		return nil, false
	}
	return &v, true
}

func knownTool(available []models.Tool, name string) bool {
	for _, t := range available {
		if t.Name == name {
			return true
		}
	}
	return false
}

// normalizeInput accepts input_json as an object or a JSON-encoded
// string holding an object.
func normalizeInput(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if json.Valid([]byte(asString)) {
			return json.RawMessage(asString)
		}
		return json.RawMessage(`{}`)
	}
	return raw
}
