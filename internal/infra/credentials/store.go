// Package credentials keeps provider API keys in Postgres so deployments on
// the Postgres queue backend can rotate them without restarting with new
// environment variables.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
	"floorplan/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
)

// Credential is a stored provider token.
type Credential struct {
	Provider   string
	Token      string
	Properties map[string]any
	UpdatedAt  time.Time
}

// Model returns the "model" property, if one was stored with the token.
func (c Credential) Model() string {
	if v, ok := c.Properties["model"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the token table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureIntegrationTokensSchema)
	return err
}

// Get returns the credential for provider or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, provider string) (Credential, error) {
	provider = normalizeProvider(provider)
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var (
		token     string
		props     []byte
		updatedAt time.Time
	)
	if err := row.Scan(&token, &props, &updatedAt); err != nil {
		if infra.IsNoRows(err) {
			return Credential{}, domain.ErrNotFound
		}
		return Credential{}, err
	}
	cred := Credential{Provider: provider, Token: strings.TrimSpace(token), UpdatedAt: updatedAt}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &cred.Properties); err != nil {
			return Credential{}, fmt.Errorf("decode %s properties: %w", provider, err)
		}
	}
	return cred, nil
}

// GeminiAPIKey returns the stored Gemini key, or "" when none is stored.
func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	cred, err := s.Get(ctx, ProviderGemini)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// SetGeminiAPIKey stores key, optionally pinning the model it is meant for.
func (s *Store) SetGeminiAPIKey(ctx context.Context, key, model string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: gemini api key is required", domain.ErrInvalidInput)
	}
	props := map[string]any{}
	if model = strings.TrimSpace(model); model != "" {
		props["model"] = model
	}
	return s.upsert(ctx, ProviderGemini, key, props)
}

// Delete removes the provider's credential and reports whether one existed.
func (s *Store) Delete(ctx context.Context, provider string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, normalizeProvider(provider))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, normalizeProvider(provider), token, raw)
	return err
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// GeminiLookup is the subset of Store used to resolve a key at startup.
type GeminiLookup interface {
	Get(ctx context.Context, provider string) (Credential, error)
}

// ResolveGemini picks the Gemini key and model for a process. A key from the
// environment always wins; otherwise the stored credential is used. A nil
// lookup or a lookup failure leaves the vision client unconfigured, which
// only degrades annotation.
func ResolveGemini(ctx context.Context, cfg *infra.Config, lookup GeminiLookup, logger *infra.Logger) (key, model string) {
	key, model = strings.TrimSpace(cfg.GeminiAPIKey), cfg.GeminiModel
	if key != "" {
		return key, model
	}
	if lookup == nil {
		logger.Warn().Msg("credentials: no gemini key configured; room annotation disabled")
		return "", model
	}
	cred, err := lookup.Get(ctx, ProviderGemini)
	switch {
	case errors.Is(err, domain.ErrNotFound) || (err == nil && cred.Token == ""):
		logger.Warn().Msg("credentials: no gemini key configured; room annotation disabled")
		return "", model
	case err != nil:
		logger.Warn().Err(err).Msg("credentials: load gemini key failed; room annotation disabled")
		return "", model
	}
	if m := cred.Model(); m != "" {
		model = m
	}
	logger.Info().Str("model", model).Time("updated_at", cred.UpdatedAt).Msg("credentials: using stored gemini key")
	return cred.Token, model
}
