package common

import (
	"context"
	"errors"

	"github.com/openledgerhq/feerelay/src/utils/config"
)

type contextKey int

const (
	configKey contextKey = iota
)

func SetConfig(ctx context.Context, config *config.Config) context.Context {
	return context.WithValue(ctx, configKey, config)
}

func GetConfig(ctx context.Context) (*config.Config, error) {
	out, ok := ctx.Value(configKey).(*config.Config)
	if !ok {
		return nil, errors.New("config not set in context")
	}
	return out, nil
}
