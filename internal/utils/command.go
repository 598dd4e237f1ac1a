package utils

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// GetCommandLine expands text/template placeholders in a command and its
// arguments, e.g. "--port={{.Port}}".
func GetCommandLine(command string, args []string, data interface{}) (string, []string, error) {
	cmd, err := expand("command", command, data)
	if err != nil {
		return "", nil, err
	}

	var processedArgs []string
	for _, arg := range args {
		v, err := expand("arg", arg, data)
		if err != nil {
			return "", nil, fmt.Errorf("arg '%s': %w", arg, err)
		}
		processedArgs = append(processedArgs, strings.TrimSpace(v))
	}
	return cmd, processedArgs, nil
}

func expand(name, text string, data interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
