// Package secrets resolves sensitive configuration values. A value can
// be supplied directly in an environment variable or, for deployments
// using mounted secret files, indirectly via a "<NAME>_FILE" variable
// pointing at a file whose contents hold the value.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Getenv returns the secret named by key. The direct variable wins;
// otherwise key+"_FILE" is read from disk with surrounding whitespace
// trimmed. Returns "" when neither is set.
func Getenv(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}

	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file for %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}
