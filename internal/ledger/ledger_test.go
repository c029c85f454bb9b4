package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "jobs.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	batch := NewBatchID()

	id, err := s.Record(ctx, Entry{Batch: batch, Name: "TTW_sr_2018", RunMode: RunModeCondor, ClusterID: 42, LogPath: "/w/TTW.log"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := s.Record(ctx, Entry{Batch: batch, Name: "WZ_sr_2018", RunMode: RunModeCondor}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := s.Record(ctx, Entry{Batch: NewBatchID(), Name: "other", RunMode: RunModeLocal, Status: StatusSucceeded}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSubmitted || got.Attempts != 1 || got.ClusterID != 42 {
		t.Fatalf("unexpected entry %+v", got)
	}

	list, err := s.List(ctx, Filter{Batch: batch})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "TTW_sr_2018" {
		t.Fatalf("unexpected batch listing %+v", list)
	}

	latest, err := s.LatestBatch(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == batch {
		t.Fatalf("expected the most recent batch")
	}
}

func TestUpdateAndResubmit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	batch := NewBatchID()
	id, err := s.Record(ctx, Entry{Batch: batch, Name: "j", RunMode: RunModeCondor, ClusterID: 1})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := s.UpdateStatus(ctx, id, StatusFailed, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	failed, err := s.List(ctx, Filter{Batch: batch, Statuses: []Status{StatusFailed, StatusAborted}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 || failed[0].ExitCode != 1 {
		t.Fatalf("unexpected failed listing %+v", failed)
	}

	if err := s.MarkResubmitted(ctx, id, 2); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Status != StatusSubmitted || got.Attempts != 2 || got.ClusterID != 2 || got.ExitCode != 0 {
		t.Fatalf("unexpected entry after resubmit %+v", got)
	}

	if err := s.UpdateStatus(ctx, 999, StatusFailed, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Record(context.Background(), Entry{Name: "j"}); err == nil {
		t.Fatalf("expected batch required")
	}
	if _, err := s.LatestBatch(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected empty ledger to have no batch, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Record(ctx, Entry{Batch: "b", Name: "j", RunMode: RunModeLocal}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	list, err := s.List(ctx, Filter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one job after reopen, got %d (%v)", len(list), err)
	}
}

func TestExtractUp(t *testing.T) {
	got := extractUp("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if extractUp("SELECT 1;") != "SELECT 1;" {
		t.Fatalf("expected whole file without markers")
	}
}
