package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver looks up provider settings and hides disabled providers.
type Resolver struct {
	settings SettingsReader
}

func NewResolver(settings SettingsReader) *Resolver {
	return &Resolver{settings: settings}
}

// Resolve returns the setting for an enabled provider. Absent and disabled
// providers both yield ErrProviderUnavailable.
func (r *Resolver) Resolve(ctx context.Context, provider string) (*ProviderSetting, error) {
	if provider == "" {
		return nil, ErrProviderUnavailable
	}

	setting, err := r.settings.FindSetting(ctx, provider)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrProviderUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %q: %w", provider, err)
	}
	if setting == nil || !setting.Enabled {
		return nil, ErrProviderUnavailable
	}
	return setting, nil
}

// ListEnabled returns the names of enabled providers in name order.
func (r *Resolver) ListEnabled(ctx context.Context) ([]string, error) {
	settings, err := r.settings.ListEnabledSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	names := make([]string, 0, len(settings))
	for _, s := range settings {
		if s.Enabled {
			names = append(names, s.Provider)
		}
	}
	sort.Strings(names)
	return names, nil
}
