package service

import (
	"context"
	"strings"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/models"
	"wabridge/pkg/graph"

	"github.com/sirupsen/logrus"
)

// Source names where a credential value came from.
type Source string

const (
	SourceConfig  Source = "config"
	SourceStore   Source = "store"
	SourceDefault Source = "default"
	SourceNone    Source = ""
)

// SettingsReader is the part of the store the resolver needs.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// ResolvedCredentials are the effective credentials plus where each came from.
type ResolvedCredentials struct {
	graph.Credentials
	TokenSource   Source `json:"token_source"`
	PhoneSource   Source `json:"phone_source"`
	VersionSource Source `json:"version_source"`
}

// CredentialResolver merges configured credentials with remotely stored
// overrides. Configuration always wins; a stored value is only consulted
// when the configured one is empty.
type CredentialResolver struct {
	cfg      models.WhatsAppConfig
	settings SettingsReader
	logger   *logrus.Logger
}

func NewCredentialResolver(cfg models.WhatsAppConfig, settings SettingsReader, logger *logrus.Logger) *CredentialResolver {
	return &CredentialResolver{cfg: cfg, settings: settings, logger: logger}
}

// Lookup returns whatever can be resolved. Store errors are logged and the
// affected value is left empty.
func (r *CredentialResolver) Lookup(ctx context.Context) ResolvedCredentials {
	var out ResolvedCredentials
	out.AccessToken, out.TokenSource = r.pick(ctx, r.cfg.AccessToken, constants.SettingAccessToken)
	out.PhoneNumberID, out.PhoneSource = r.pick(ctx, r.cfg.PhoneNumberID, constants.SettingPhoneNumberID)
	out.Version, out.VersionSource = r.pick(ctx, r.cfg.GraphVersion, constants.SettingGraphVersion)
	if out.Version == "" {
		out.Version, out.VersionSource = constants.DefaultGraphVersion, SourceDefault
	}
	return out
}

// Resolve is Lookup that fails with not_configured when the token or the
// phone number id is missing.
func (r *CredentialResolver) Resolve(ctx context.Context) (ResolvedCredentials, error) {
	creds := r.Lookup(ctx)
	if creds.AccessToken == "" {
		return creds, apperrors.NewConfigError("access_token", "WhatsApp access token is not configured")
	}
	if creds.PhoneNumberID == "" {
		return creds, apperrors.NewConfigError("phone_number_id", "WhatsApp phone number id is not configured")
	}
	return creds, nil
}

// Configured reports whether a send could be attempted right now.
func (r *CredentialResolver) Configured(ctx context.Context) bool {
	_, err := r.Resolve(ctx)
	return err == nil
}

func (r *CredentialResolver) pick(ctx context.Context, configured, key string) (string, Source) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, SourceConfig
	}
	if r.settings == nil {
		return "", SourceNone
	}

	v, found, err := r.settings.GetSetting(ctx, key)
	if err != nil {
		LogWithContext(ctx, r.logger).WithError(err).WithField("setting", key).Warn("Failed to read stored credential override")
		return "", SourceNone
	}
	if !found || strings.TrimSpace(v) == "" {
		return "", SourceNone
	}
	return strings.TrimSpace(v), SourceStore
}
