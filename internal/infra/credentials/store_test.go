package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vidgen/internal/sqlinline"
)

type stubExecutor struct {
	token   string
	err     error
	queried bool
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = true
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderRender)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderRender)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolveAPIKeyPrefersConfigured(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)
	key, err := store.ResolveAPIKey(context.Background(), ProviderRender, " from-env ")
	if err != nil {
		t.Fatalf("ResolveAPIKey error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("expected from-env, got %q", key)
	}
	if exec.queried {
		t.Fatalf("store should not be queried when a key is configured")
	}
}

func TestResolveAPIKeyFallsBackToStore(t *testing.T) {
	store := NewStore(&stubExecutor{token: "stored"})
	key, err := store.ResolveAPIKey(context.Background(), ProviderRender, "")
	if err != nil {
		t.Fatalf("ResolveAPIKey error: %v", err)
	}
	if key != "stored" {
		t.Fatalf("expected stored, got %q", key)
	}
}

func TestSetAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetAPIKey(context.Background(), "Render", "secret", map[string]any{"base_url": "https://x"}); err != nil {
		t.Fatalf("SetAPIKey error: %v", err)
	}
	if exec.exec.query != sqlinline.QUpsertIntegrationToken {
		t.Fatalf("unexpected query: %q", exec.exec.query)
	}
	if len(exec.exec.args) != 3 || exec.exec.args[0] != ProviderRender || exec.exec.args[1] != "secret" {
		t.Fatalf("unexpected args: %#v", exec.exec.args)
	}
}

func TestSetAPIKeyRequiresValue(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetAPIKey(context.Background(), ProviderRender, "  ", nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
