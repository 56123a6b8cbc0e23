package paramstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Env is a Getter backed by process environment variables, for local runs
// without AWS access. A parameter name maps to an env key by taking its last
// path segment, upper-casing it and replacing dashes with underscores:
// "/rental-agent/open-ai-token" becomes OPEN_AI_TOKEN. The variable must hold
// the same JSON document that would be stored in SSM.
type Env struct{}

func NewEnv() *Env {
	return &Env{}
}

func (e *Env) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	segments := strings.Split(strings.Trim(name, "/"), "/")
	key := strings.ToUpper(strings.ReplaceAll(segments[len(segments)-1], "-", "_"))

	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("paramstore: environment variable %s is not set", key)
	}
	return v, nil
}
