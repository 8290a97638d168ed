package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Command is one parsed explicit tool invocation.
type Command struct {
	Name  string
	Input json.RawMessage
}

// CommandSyntaxError reports a malformed explicit command. Hint is
// Spanish, ready to be spoken or returned to the caller.
type CommandSyntaxError struct {
	Hint string
}

func (e *CommandSyntaxError) Error() string {
	return "tool command syntax error: " + e.Hint
}

func syntaxError(prefix string) *CommandSyntaxError {
	return &CommandSyntaxError{
		Hint: fmt.Sprintf(
			"Formato inválido. Usa: %s <nombre_herramienta> <json>. Por ejemplo: %s crear_pedido {\"producto\":\"tacos\"}",
			prefix, prefix),
	}
}

// ParseCommand recognizes an explicit tool command. The prefix must
// stand alone (followed by whitespace or end of input): text like
// "/toolx ..." with prefix "/tool" is not a command and returns
// (nil, nil). Text that does invoke the prefix must fully parse or the
// caller gets a *CommandSyntaxError.
func ParseCommand(prefix, text string) (*Command, error) {
	trimmed := strings.TrimSpace(text)
	rest, ok := strings.CutPrefix(trimmed, prefix)
	if !ok {
		return nil, nil
	}
	if rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsSpace(r) {
			return nil, nil
		}
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, syntaxError(prefix)
	}

	name, args, _ := strings.Cut(rest, " ")
	if !toolNameRe.MatchString(name) {
		return nil, syntaxError(prefix)
	}

	args = strings.TrimSpace(args)
	if args == "" {
		return nil, syntaxError(prefix)
	}
	if !json.Valid([]byte(args)) {
		return nil, syntaxError(prefix)
	}
	return &Command{Name: name, Input: json.RawMessage(args)}, nil
}
