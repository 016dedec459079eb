package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolvePlaceholders walks the document and expands ${VAR} references in
// every string scalar. A ${VAR} first tries VAR_FILE naming a file whose
// trimmed contents supply the value (the Docker secrets pattern), then VAR
// itself. An unresolvable reference fails the load.
func resolvePlaceholders(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if n.Tag != "!!str" || !strings.Contains(n.Value, "${") {
			return nil
		}
		resolved, err := expand(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		n.Value = resolved
		return nil
	}
	for _, child := range n.Content {
		if err := resolvePlaceholders(child); err != nil {
			return err
		}
	}
	return nil
}

func expand(s string) (string, error) {
	var expandErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		v, err := resolveVar(name)
		if err != nil && expandErr == nil {
			expandErr = err
		}
		return v
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

func resolveVar(name string) (string, error) {
	if path, ok := os.LookupEnv(name + "_FILE"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("file named by %s_FILE not found: %s", name, path)
			}
			return "", fmt.Errorf("read file named by %s_FILE: %w", name, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("environment variable ${%s} not set", name)
}
