//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/worldlink/sdk/go/client"
)

func InitializeWorld(ctx context.Context, opts Options) (*client.World, func(), error) {
	wire.Build(BaseSet, ProvideWorld)
	return nil, nil, nil
}

func InitializeAuthority(opts Options) (*Authority, func(), error) {
	wire.Build(BaseSet, ProvideServer, wire.Struct(new(Authority), "*"))
	return nil, nil, nil
}
