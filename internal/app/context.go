package app

import (
	"context"
	"strings"

	"kintsugi/internal/config"
	"kintsugi/internal/domain"
	"kintsugi/internal/engine"
)

const defaultTokenIdentifier = "local-user"

// ResolveConfig loads kintsugi.yml from the workspace, falling back to the
// built-in defaults when no config file exists yet.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

// ResolveUser ensures a user row exists for the local CLI identity and
// returns it. The token identifier defaults to "local-user" so single-user
// workspaces need no flags.
func ResolveUser(ctx context.Context, e engine.Engine, tokenIdentifier, name, email string) (domain.User, error) {
	if strings.TrimSpace(tokenIdentifier) == "" {
		tokenIdentifier = defaultTokenIdentifier
	}
	return e.GetOrCreateUser(ctx, tokenIdentifier, name, email)
}
