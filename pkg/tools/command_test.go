package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandExplicit(t *testing.T) {
	cmd, err := ParseCommand("/tool", `/tool crear_pedido {"producto":"tacos","cantidad":3}`)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "crear_pedido", cmd.Name)
	assert.JSONEq(t, `{"producto":"tacos","cantidad":3}`, string(cmd.Input))
}

func TestParseCommandNotACommand(t *testing.T) {
	cases := []string{
		"quiero hacer un pedido",
		`/toolx {"a":1}`,
		"/tools por favor",
		"/toolería",
	}
	for _, text := range cases {
		cmd, err := ParseCommand("/tool", text)
		require.NoError(t, err, "input %q", text)
		assert.Nil(t, cmd, "input %q", text)
	}
}

func TestParseCommandSyntaxErrors(t *testing.T) {
	cases := []string{
		"/tool",
		"/tool  ",
		"/tool crear_pedido",
		`/tool crear pedido {"a":1}`,
		`/tool crear_pedido {producto: tacos}`,
		`/tool ¡hola! {"a":1}`,
	}
	for _, text := range cases {
		_, err := ParseCommand("/tool", text)
		var syntaxErr *CommandSyntaxError
		require.ErrorAs(t, err, &syntaxErr, "input %q", text)
		assert.Contains(t, syntaxErr.Hint, "/tool")
	}
}

func TestParseCommandTrimsWhitespace(t *testing.T) {
	cmd, err := ParseCommand("/tool", `   /tool estado_pedido   {"id":"42"}  `)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "estado_pedido", cmd.Name)
	assert.True(t, json.Valid(cmd.Input))
}

func TestParseCommandCustomPrefix(t *testing.T) {
	cmd, err := ParseCommand("!run", `!run consultar {"q":"x"}`)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "consultar", cmd.Name)
}
