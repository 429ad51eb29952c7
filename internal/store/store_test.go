package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFamily(t *testing.T, db *sql.DB, name string) *model.Family {
	t.Helper()
	f, err := NewFamilyStore(db).Create(context.Background(), name, "parent@example.com")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return f
}

func seedChild(t *testing.T, db *sql.DB, familyID int64, name string) *model.Child {
	t.Helper()
	c, err := NewChildStore(db).Create(context.Background(), familyID, name)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return c
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{3, "?, ?, ?"},
	}
	for _, tt := range tests {
		if got := placeholders(tt.n); got != tt.want {
			t.Errorf("placeholders(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestWeekdayEncoding(t *testing.T) {
	days := decodeWeekdays(encodeWeekdays(nil))
	if len(days) != 0 {
		t.Errorf("empty round trip = %v, want none", days)
	}

	days = decodeWeekdays("1, 3,5,9,x")
	if len(days) != 3 || days[0] != 1 || days[1] != 3 || days[2] != 5 {
		t.Errorf("decode = %v, want [1 3 5]", days)
	}
}
