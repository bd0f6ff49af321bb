package paramstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvGetter resolves parameter names to environment variables. It is the
// secret store of the local server.
type EnvGetter struct {
	vars   map[string]string
	lookup func(string) (string, bool)
}

// NewEnvGetter maps each parameter name to the environment variable that
// holds its value.
func NewEnvGetter(vars map[string]string) *EnvGetter {
	return &EnvGetter{vars: vars, lookup: os.LookupEnv}
}

func (g *EnvGetter) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	key, ok := g.vars[name]
	if !ok {
		return "", fmt.Errorf("paramstore: no environment variable mapped for %q", name)
	}
	v, ok := g.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: environment variable %s is not set", key)
	}
	return v, nil
}
