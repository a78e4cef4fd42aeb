package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/arxlab/litagent/internal/core/domain"
)

func TestUpdateProgressMarksRunRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectExec("UPDATE agent_runs").
		WithArgs("r-1", 2, "partial", sqlmock.AnyArg(), string(domain.RunRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateProgress(context.Background(), "r-1", 2, "partial"); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecoverStaleSelectsPendingAndRunningRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"run_id", "user_id", "conversation_id", "mode", "status",
		"iterations", "last_completed_step", "partial_results", "termination",
		"started_at", "updated_at",
	}).
		AddRow("r-1", "u-1", "c-1", "general", "running", 2, 2, "partial", "", now.Add(-time.Hour), now.Add(-10*time.Minute)).
		AddRow("r-2", "u-1", "c-2", "general", "pending", 0, 0, "", "", now.Add(-time.Hour), now.Add(-time.Hour))

	mock.ExpectQuery("FROM agent_runs").
		WithArgs("pending", "running", sqlmock.AnyArg()).
		WillReturnRows(rows)

	stale, err := repo.RecoverStale(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale() error = %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale runs, got %d", len(stale))
	}
	if stale[0].RunID != "r-1" || stale[0].LastCompletedStep != 2 {
		t.Fatalf("unexpected run: %+v", stale[0])
	}
	if stale[1].Status != domain.RunPending {
		t.Fatalf("expected pending run recovered, got %+v", stale[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkFailedFinishesRunAsAborted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectExec("UPDATE agent_runs").
		WithArgs("r-1", string(domain.RunFailed), string(domain.TerminationAborted), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "r-1"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
