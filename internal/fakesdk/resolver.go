package fakesdk

import (
	"context"
	"fmt"

	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

const configurationMethod = "getConfiguration"

// ResolveClientConfig finds the client behind a component instance and
// returns its configuration as plain data.
//
// The client component is its own client. Any other instance is searched for
// the profile's client properties in order; the first truthy one wins and may
// be a promise. ErrConfigurationNotFound is returned when none is present.
func ResolveClientConfig(ctx context.Context, r realm.Realm, prof *profile.Profile, componentKey string, instance realm.Value) (any, error) {
	client := instance

	if componentKey != prof.ClientComponent {
		found := false
		for _, prop := range prof.ClientProperties {
			v, ok, err := r.Property(ctx, instance, prop)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", prop, err)
			}
			if ok {
				client = v
				found = true
				break
			}
		}
		if !found {
			return nil, types.ErrConfigurationNotFound
		}
	}

	resolved, err := r.Await(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("client did not resolve: %w", err)
	}

	config, err := r.CallMethod(ctx, resolved, configurationMethod)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", configurationMethod, err)
	}

	config, err = r.Await(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", configurationMethod, err)
	}

	return r.Export(ctx, config)
}
