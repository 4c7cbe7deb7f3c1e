package federation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	settings := new(mockSettings)
	settings.On("FindSetting", mock.Anything, "google").Return(&ProviderSetting{Provider: "google", Enabled: true}, nil)
	settings.On("FindSetting", mock.Anything, "github").Return(&ProviderSetting{Provider: "github", Enabled: false}, nil)
	settings.On("FindSetting", mock.Anything, "gitlab").Return(nil, ErrNotFound)
	settings.On("FindSetting", mock.Anything, "broken").Return(nil, errors.New("db down"))

	r := NewResolver(settings)

	got, err := r.Resolve(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "google", got.Provider)

	_, disabledErr := r.Resolve(ctx, "github")
	_, absentErr := r.Resolve(ctx, "gitlab")
	assert.ErrorIs(t, disabledErr, ErrProviderUnavailable)
	assert.Equal(t, disabledErr, absentErr, "disabled and absent must be indistinguishable")

	_, err = r.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = r.Resolve(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)

	settings.AssertNotCalled(t, "FindSetting", mock.Anything, "")
}

func TestResolver_ListEnabled(t *testing.T) {
	settings := new(mockSettings)
	settings.On("ListEnabledSettings", mock.Anything).Return([]*ProviderSetting{
		{Provider: "google", Enabled: true},
		{Provider: "azure", Enabled: true},
		{Provider: "github", Enabled: false},
	}, nil)

	names, err := NewResolver(settings).ListEnabled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"azure", "google"}, names)
}
