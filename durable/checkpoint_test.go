package durable

import (
	"context"
	"testing"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

func TestResumeArgsRoundTrip(t *testing.T) {
	args := ResumeArgs{JobID: "job-1", TenantID: "acme"}
	raw, err := args.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"job_id":"job-1","tenant_id":"acme"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
	got, err := DecodeResumeArgs(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != args {
		t.Fatalf("expected %+v, got %+v", args, got)
	}
	if got.Key() != "acme/job-1" {
		t.Fatalf("unexpected key %s", got.Key())
	}
}

func TestResumeArgsRejectsBadInput(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":   `{job`,
		"no job":    `{"tenant_id":"acme"}`,
		"no tenant": `{"job_id":"job-1"}`,
	} {
		if _, err := DecodeResumeArgs([]byte(raw)); !pipeline.IsResumeError(err) {
			t.Fatalf("%s: expected resume error, got %v", name, err)
		}
	}
	if _, err := (ResumeArgs{JobID: "x"}).Encode(); !pipeline.IsResumeError(err) {
		t.Fatalf("expected encode to validate, got %v", err)
	}
}

func checkpointAt(tenantID, jobID string, due time.Time) Checkpoint {
	return Checkpoint{Args: ResumeArgs{JobID: jobID, TenantID: tenantID}, DueAt: due, CreatedAt: due}
}

func exerciseStore(t *testing.T, s CheckpointStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, cp := range []Checkpoint{
		checkpointAt("acme", "b", now),
		checkpointAt("acme", "a", now),
		checkpointAt("globex", "early", now.Add(-time.Minute)),
		checkpointAt("acme", "later", now.Add(time.Minute)),
	} {
		if err := s.Save(ctx, cp); err != nil {
			t.Fatalf("save %s: %v", cp.ID(), err)
		}
	}

	due, err := s.Due(ctx, now, 0)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	want := []string{"globex/early", "acme/a", "acme/b"}
	if len(due) != len(want) {
		t.Fatalf("expected %d due, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i].ID() != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, due[i].ID())
		}
	}

	limited, err := s.Due(ctx, now, 1)
	if err != nil || len(limited) != 1 || limited[0].ID() != "globex/early" {
		t.Fatalf("expected earliest checkpoint only, got %v (%v)", limited, err)
	}

	// replacing keeps one checkpoint per job
	moved := checkpointAt("acme", "a", now.Add(time.Hour))
	moved.Attempts = 2
	moved.LastError = "db down"
	if err := s.Save(ctx, moved); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "acme/b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "acme/missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	all, err := s.Due(ctx, now.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(all))
	}
	last := all[len(all)-1]
	if last.ID() != "acme/a" || last.Attempts != 2 || last.LastError != "db down" {
		t.Fatalf("unexpected replaced checkpoint %+v", last)
	}
	if !last.DueAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected due time to survive storage, got %s", last.DueAt)
	}
}

func TestMemoryCheckpointStore(t *testing.T) {
	s := NewMemoryCheckpointStore()
	exerciseStore(t, s)
	if s.Len() != 3 {
		t.Fatalf("expected 3 stored, got %d", s.Len())
	}
	if err := s.Save(context.Background(), Checkpoint{}); !pipeline.IsResumeError(err) {
		t.Fatalf("expected invalid checkpoint rejected, got %v", err)
	}
}

func TestBadgerCheckpointStore(t *testing.T) {
	s, err := OpenBadgerCheckpointStore("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestBadgerCheckpointStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	s, err := OpenBadgerCheckpointStore(dir)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	if err := s.Save(ctx, checkpointAt("acme", "job-1", now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenBadgerCheckpointStore(dir)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer s.Close()
	due, err := s.Due(ctx, now, 0)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID() != "acme/job-1" {
		t.Fatalf("expected persisted checkpoint, got %+v", due)
	}
}
