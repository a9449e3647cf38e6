package service

import (
	"context"
	"errors"
	"testing"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialResolver_ConfigWins(t *testing.T) {
	settings := &mapSettings{values: map[string]string{
		constants.SettingAccessToken:   "stored-token",
		constants.SettingPhoneNumberID: "999",
	}}
	resolver := NewCredentialResolver(testWhatsAppConfig(), settings, quietLogger())

	creds, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token-abcdef", creds.AccessToken)
	assert.Equal(t, SourceConfig, creds.TokenSource)
	assert.Equal(t, "1234567890", creds.PhoneNumberID)
	assert.Equal(t, SourceConfig, creds.PhoneSource)
}

func TestCredentialResolver_StoreFillsGaps(t *testing.T) {
	settings := &mapSettings{values: map[string]string{
		constants.SettingAccessToken:   " stored-token ",
		constants.SettingPhoneNumberID: "999",
		constants.SettingGraphVersion:  "v23.0",
	}}
	resolver := NewCredentialResolver(models.WhatsAppConfig{}, settings, quietLogger())

	creds, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", creds.AccessToken)
	assert.Equal(t, SourceStore, creds.TokenSource)
	assert.Equal(t, "999", creds.PhoneNumberID)
	assert.Equal(t, "v23.0", creds.Version)
	assert.Equal(t, SourceStore, creds.VersionSource)
}

func TestCredentialResolver_DefaultVersion(t *testing.T) {
	cfg := testWhatsAppConfig()
	cfg.GraphVersion = ""
	resolver := NewCredentialResolver(cfg, nil, quietLogger())

	creds := resolver.Lookup(context.Background())
	assert.Equal(t, constants.DefaultGraphVersion, creds.Version)
	assert.Equal(t, SourceDefault, creds.VersionSource)
}

func TestCredentialResolver_Missing(t *testing.T) {
	resolver := NewCredentialResolver(models.WhatsAppConfig{PhoneNumberID: "1"}, nil, quietLogger())
	_, err := resolver.Resolve(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotConfigured))
	assert.False(t, resolver.Configured(context.Background()))

	resolver = NewCredentialResolver(models.WhatsAppConfig{AccessToken: "t"}, nil, quietLogger())
	_, err = resolver.Resolve(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotConfigured))
}

func TestCredentialResolver_StoreErrorIsTolerated(t *testing.T) {
	settings := &mapSettings{err: errors.New("redis down")}
	resolver := NewCredentialResolver(models.WhatsAppConfig{}, settings, quietLogger())

	creds := resolver.Lookup(context.Background())
	assert.Empty(t, creds.AccessToken)
	assert.Equal(t, SourceNone, creds.TokenSource)
	assert.False(t, resolver.Configured(context.Background()))
}
