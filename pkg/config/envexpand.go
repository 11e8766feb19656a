package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes environment variables referenced as {{.VAR}} in raw
// config bytes. Template syntax is used instead of $VAR so that literal
// dollar signs survive untouched; masking patterns and passwords are full of
// them. Unknown variables expand to the empty string and are left for
// validation to reject where the field is required. Content that fails to
// parse or execute as a template is returned as-is.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
