package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/arxlab/litagent/internal/core/domain"
)

func TestListRecentMessagesReturnsChronologicalOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "conversation_id", "role", "content", "tool_name", "user_turn", "created_at"}).
		AddRow("m-2", "u-1", "c-1", "assistant", "second", "", 1, now).
		AddRow("m-1", "u-1", "c-1", "user", "first", "", 1, now.Add(-time.Minute))

	mock.ExpectQuery("FROM conversation_messages").
		WithArgs("u-1", "c-1", 10).
		WillReturnRows(rows)

	messages, err := repo.ListRecentMessages(context.Background(), "u-1", "c-1", 10)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Fatalf("expected chronological order, got %q then %q", messages[0].Content, messages[1].Content)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetModeDefaultsToGeneralForMissingConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)
	mock.ExpectQuery("SELECT mode FROM conversations").
		WithArgs("u-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"mode"}))

	mode, err := repo.GetMode(context.Background(), "u-1", "missing")
	if err != nil {
		t.Fatalf("GetMode() error = %v", err)
	}
	if mode != domain.ModeGeneral {
		t.Fatalf("expected general mode, got %q", mode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetModeClampsUnknownValueToGeneral(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)
	mock.ExpectQuery("SELECT mode FROM conversations").
		WithArgs("u-1", "c-1").
		WillReturnRows(sqlmock.NewRows([]string{"mode"}).AddRow("review:banana"))

	mode, err := repo.GetMode(context.Background(), "u-1", "c-1")
	if err != nil {
		t.Fatalf("GetMode() error = %v", err)
	}
	if mode != domain.ModeGeneral {
		t.Fatalf("expected unknown mode clamped to general, got %q", mode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
