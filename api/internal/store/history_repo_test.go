package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"leafscan/api/internal/provider/types"
)

// Runs against a real database when TEST_DATABASE_URL is set.
func TestHistoryRepoRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn, 2, time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	repo := NewHistoryRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	user := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `delete from identification_history where user_id = $1`, user)
	})

	older, _ := NewRecord(user, types.IdentifyResult{Matches: []types.PlantMatch{{Name: "Old", ScientificName: "Vetus"}}})
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer, _ := NewRecord(user, types.IdentifyResult{
		Matches:   []types.PlantMatch{{Name: "New", ScientificName: "Novus", Confidence: 0.5}},
		IsHealthy: types.Bool(false),
	})
	for _, rec := range []Record{older, newer} {
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := repo.ListByUser(ctx, user, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].PlantName != "New" || got[1].PlantName != "Old" {
		t.Fatalf("ListByUser = %+v", got)
	}
	if got[0].Result.IsHealthy == nil || *got[0].Result.IsHealthy || got[0].ID != newer.ID {
		t.Errorf("newest = %+v", got[0])
	}
}
