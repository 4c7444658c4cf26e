package infra

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type recordingQuerier struct {
	lastSQL string
}

func (q *recordingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.lastSQL = sql
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *recordingQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.lastSQL = sql
	return errorRow{err: pgx.ErrNoRows}
}

func (q *recordingQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.lastSQL = sql
	return nil, errors.New("not supported")
}

func TestExtractMarker(t *testing.T) {
	query := "--sql 0cf64895-b392-47d2-b21f-15f8b983cd47\nselect 1;\n"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker returned error: %v", err)
	}
	if marker != "0cf64895-b392-47d2-b21f-15f8b983cd47" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.TrimSpace(body) != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	for _, query := range []string{"", "select 1;", "--sql not-a-uuid\nselect 1;"} {
		if _, _, err := extractMarker(query); err == nil {
			t.Fatalf("expected error for %q", query)
		}
	}
}

func TestMarkedExecutorStripsMarker(t *testing.T) {
	q := &recordingQuerier{}
	exec := markedExecutor{db: q, logger: zerolog.Nop()}

	tag, err := exec.Exec(context.Background(), "--sql 0cf64895-b392-47d2-b21f-15f8b983cd47\nupdate jobs set status = 'failed';")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("RowsAffected = %d, want 1", tag.RowsAffected())
	}
	if strings.Contains(q.lastSQL, "--sql") {
		t.Fatalf("marker leaked into statement: %q", q.lastSQL)
	}

	row := exec.QueryRow(context.Background(), "select 1;")
	if err := row.Scan(); err == nil || IsNoRows(err) {
		t.Fatalf("expected marker error from unmarked query, got %v", err)
	}
	if err := exec.QueryRow(context.Background(), "--sql 0cf64895-b392-47d2-b21f-15f8b983cd47\nselect 1;").Scan(); !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
}
