package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"leafscan/api/internal/provider/types"
)

const MaxListLimit = 50

// Record is one append-only history row.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	UserID         string         `json:"user_id"`
	PlantName      string         `json:"plant_name"`
	ScientificName string         `json:"scientific_name"`
	Confidence     float64        `json:"confidence"`
	Result         types.Snapshot `json:"result_json"`
	CreatedAt      time.Time      `json:"created_at"`

	// RequestID ties the async write back to the request in logs.
	RequestID string `json:"-"`
}

// NewRecord builds a record from the top match. ok is false when there is
// nothing worth storing.
func NewRecord(userID string, res types.IdentifyResult) (rec Record, ok bool) {
	if userID == "" || len(res.Matches) == 0 {
		return Record{}, false
	}
	top := res.Matches[0]
	return Record{
		ID:             uuid.New(),
		UserID:         userID,
		PlantName:      top.Name,
		ScientificName: top.ScientificName,
		Confidence:     top.Confidence,
		Result:         res.Snapshot(),
		CreatedAt:      time.Now().UTC(),
	}, true
}

type HistoryRepo struct{ DB *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

const schema = `
create table if not exists identification_history (
  id              uuid primary key,
  user_id         text not null,
  plant_name      text not null,
  scientific_name text,
  confidence      double precision,
  result_json     jsonb not null,
  image_thumbnail text,
  created_at      timestamptz not null default now()
);
create index if not exists identification_history_user_created_idx
  on identification_history (user_id, created_at desc);`

func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// Append inserts rec. Rows are never updated.
func (r *HistoryRepo) Append(ctx context.Context, rec Record) error {
	js, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const q = `
insert into identification_history (id, user_id, plant_name, scientific_name, confidence, result_json, created_at)
values ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.DB.ExecContext(ctx, q,
		rec.ID, rec.UserID, rec.PlantName,
		nullIfEmpty(rec.ScientificName), rec.Confidence,
		string(js), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListByUser returns the newest records first.
func (r *HistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	const q = `
select id, user_id, plant_name, coalesce(scientific_name, ''), coalesce(confidence, 0), result_json, created_at
from identification_history
where user_id = $1
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec Record
			js  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PlantName, &rec.ScientificName, &rec.Confidence, &js, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal(js, &rec.Result); err != nil {
			// a broken snapshot still lists with its summary columns
			rec.Result = types.Snapshot{}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
