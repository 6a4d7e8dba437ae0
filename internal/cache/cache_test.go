package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	s := Open(path)
	defer s.Close()

	last := store.Message{ID: "m1", ConversationID: "A", Kind: store.KindText, Content: "hi", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	convs := []store.Conversation{
		{ID: "A", UpdatedAt: last.CreatedAt, UnreadCount: 3, LastMessage: &last, Participants: []store.Participant{{ID: "u1", Username: "amina"}}},
		{ID: "B", ProductID: "prod-7"},
	}

	s.Store(convs)
	got := s.Load()
	require.Equal(t, convs, got)
}

func TestSnapshot_StoreReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	s := Open(path)
	defer s.Close()

	s.Store([]store.Conversation{{ID: "A"}, {ID: "B"}})
	s.Store([]store.Conversation{{ID: "C"}})

	got := s.Load()
	require.Len(t, got, 1)
	require.Equal(t, "C", got[0].ID)
}

func TestSnapshot_EmptyPathDisablesCache(t *testing.T) {
	s := Open("")
	defer s.Close()

	s.Store([]store.Conversation{{ID: "A"}})
	require.Nil(t, s.Load())
}

// A read that fails partway through iteration must come back as a miss, not
// as a silently truncated snapshot.
func TestSnapshot_LoadIterationErrorIsMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow(`{"id":"A"}`).
		AddRow(`{"id":"B"}`).
		RowError(1, errors.New("disk I/O error"))
	mock.ExpectQuery(`SELECT payload FROM conversations`).WillReturnRows(rows)

	s := Open("")
	s.db = db

	require.Nil(t, s.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_MissIsNotAnError(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "fresh.db"))
	defer s.Close()

	require.Nil(t, s.Load())
}
