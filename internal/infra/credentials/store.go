package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

const (
	ProviderRender = "render"
)

// Store reads and writes provider tokens kept in the integration_tokens table.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for provider, or an empty string when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// ResolveAPIKey prefers the explicitly configured key and falls back to the
// stored token. Called once at process start.
func (s *Store) ResolveAPIKey(ctx context.Context, provider, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	key, err := s.Token(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("credentials: load %s token: %w", provider, err)
	}
	return key, nil
}

// SetAPIKey upserts the token for provider. props is stored alongside as JSON.
func (s *Store) SetAPIKey(ctx context.Context, provider, key string, props map[string]any) error {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return errors.New("provider is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return s.upsert(ctx, provider, key, props)
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
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
