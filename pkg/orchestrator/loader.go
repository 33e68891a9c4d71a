package orchestrator

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/jsbridge/pkg/bridge"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
)

// TsConfigSource is the engine call resolving a tsconfig.
type TsConfigSource interface {
	TsConfigFiles(ctx context.Context, tsconfig string) (bridge.TsConfigResponse, error)
}

// EngineLoader loads tsconfig files by asking the engine to resolve them.
func EngineLoader(src TsConfigSource) tsconfig.LoaderFunc {
	return func(ctx context.Context, path string) (*tsconfig.File, error) {
		resp, err := src.TsConfigFiles(ctx, path)
		if err != nil {
			return nil, err
		}

		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", tsconfig.ErrConfigResolution, path, resp.Error)
		}

		return tsconfig.NewFile(path, resp.Files, resp.ProjectReferences), nil
	}
}
