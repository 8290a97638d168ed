package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// template syntax: {{.VAR_NAME}}. Plain $ is never touched, so regex
// patterns, passwords with $, and shell snippets survive config files
// unmodified.
//
// Missing variables expand to empty string. If the content is not a
// parseable template (stray braces and the like), the original bytes are
// returned unchanged and the YAML parser reports whatever is actually
// wrong with the file.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := environMap()

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}

// environMap snapshots the process environment. Splitting on the first
// '=' keeps values that themselves contain '='.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}
