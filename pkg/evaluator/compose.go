package evaluator

import (
	"context"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/providers"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// Compose builds the root context of an evaluator. Provider fragments are
// merged into contextConfig only for the managed process type; for any other
// type contextConfig is returned unchanged.
//
// Every provider is asked for a fresh fragment. The first provider that fails
// or conflicts aborts the composition with an error matching
// ErrConfigurationMerge that names the provider.
func Compose(ctx context.Context, contextConfig config.Configuration, set *providers.Set, processType launch.ProcessType) (config.Configuration, error) {
	logger := telemetry.FromContext(ctx)

	if !processType.IsManaged() {
		logger.Debugf("Skipping %d configuration providers for %s process", set.Len(), processType)
		return contextConfig, nil
	}

	builder := config.NewBuilder(contextConfig)
	for _, p := range set.Snapshot() {
		err := telemetry.RecordProviderCall(ctx, p.Name(), func(ctx context.Context) error {
			fragment, err := p.Configuration(ctx)
			if err != nil {
				return err
			}
			return builder.AddConfiguration(fragment)
		})
		if err != nil {
			logger.WithProvider(p.Name()).WithError(err).Error("Configuration provider failed")
			return config.Configuration{}, mergeError(p.Name(), err)
		}
		logger.WithProvider(p.Name()).Debug("Merged provider configuration")
	}

	return builder.Build()
}
