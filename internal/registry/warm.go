package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
)

// Warm is the durable identity tier, backed by Postgres + pgvector for
// cosine similarity search over appearance embeddings (§4.3, §6
// "Warm-registry logical columns"). Grounded on the teacher's
// PostgresStore.SearchFaces (the `<=>` cosine-distance operator usage is
// identical); the schema is new since the teacher's face identities had no
// barn/stream scoping or hot-tier shadowing concept.
type Warm struct {
	pool *pgxpool.Pool
}

// NewWarm connects to the warm tier.
func NewWarm(cfg config.DatabaseConfig) (*Warm, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Warm{pool: pool}, nil
}

func (w *Warm) Close() { w.pool.Close() }

func (w *Warm) Ping(ctx context.Context) error { return w.pool.Ping(ctx) }

// EnsureSchema creates the warm registry table if it doesn't already
// exist. Schema migrations proper are out of scope (§1); this is a minimal
// idempotent bootstrap for local/dev use, the same role the teacher's
// MinIOStore.EnsureBucket plays for object storage.
func (w *Warm) EnsureSchema(ctx context.Context, dim int) error {
	_, err := w.pool.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS horses (
			id                TEXT PRIMARY KEY,
			tracking_id       TEXT NOT NULL,
			stream_id         TEXT NOT NULL,
			barn_id           TEXT NOT NULL,
			name              TEXT,
			is_official       BOOLEAN NOT NULL DEFAULT false,
			color_hex         TEXT NOT NULL,
			first_detected    TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen         TIMESTAMPTZ NOT NULL DEFAULT now(),
			total_detections  INTEGER NOT NULL DEFAULT 0,
			feature_vector    vector(%d),
			metadata          JSONB NOT NULL DEFAULT '{}',
			track_confidence  REAL NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'active',
			avatar_thumbnail  BYTEA
		);
		CREATE INDEX IF NOT EXISTS idx_horses_barn ON horses (barn_id, status);
	`, dim))
	if err != nil {
		return fmt.Errorf("ensure warm schema: %w", err)
	}
	return nil
}

// ActiveByBarn returns every active entry for a barn, oldest-first with
// officials pinned first (§4.3 LoadBarn step 1).
func (w *Warm) ActiveByBarn(ctx context.Context, barnID string) ([]models.RegistryEntry, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT id, tracking_id, stream_id, barn_id, name, is_official, color_hex,
		       last_seen, total_detections, feature_vector, track_confidence,
		       status, avatar_thumbnail
		FROM horses
		WHERE barn_id = $1 AND status = 'active'
		ORDER BY is_official DESC, first_detected ASC`, barnID)
	if err != nil {
		return nil, fmt.Errorf("active by barn: %w", err)
	}
	defer rows.Close()

	var out []models.RegistryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows pgx.Rows) (models.RegistryEntry, error) {
	var e models.RegistryEntry
	var name *string
	var vec pgvector.Vector
	var thumb []byte
	var lastSeen time.Time
	if err := rows.Scan(&e.ID, &e.TrackingID, &e.StreamID, &e.BarnID, &name, &e.IsOfficial,
		&e.ColorHex, &lastSeen, &e.TotalDetections, &vec, &e.TrackingConfidence,
		&e.Status, &thumb); err != nil {
		return e, fmt.Errorf("scan warm entry: %w", err)
	}
	if name != nil {
		e.Name = *name
	}
	e.Features = vec.Slice()
	e.LastUpdatedTime = lastSeen
	e.ThumbnailBytes = thumb
	return e, nil
}

// Get fetches a single entry by id, or (zero, false) if absent.
func (w *Warm) Get(ctx context.Context, id string) (models.RegistryEntry, bool, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT id, tracking_id, stream_id, barn_id, name, is_official, color_hex,
		       last_seen, total_detections, feature_vector, track_confidence,
		       status, avatar_thumbnail
		FROM horses WHERE id = $1`, id)
	if err != nil {
		return models.RegistryEntry{}, false, fmt.Errorf("get warm entry: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return models.RegistryEntry{}, false, rows.Err()
	}
	e, err := scanEntry(rows)
	return e, err == nil, err
}

// Upsert writes one identity to the warm tier. When the identity already
// exists, its feature vector is blended with the new one using
// `weightNew*new + weightOld*old` then renormalized (§4.3 SaveBarn step 2:
// a one-shot blend, distinct from the tracker's per-frame EMA, §9 Open
// Question a). `is_official` and `name` are never overwritten by a blind
// new value: an existing name is kept and a new one only fills an empty
// name, and is_official can only change from false to true, so Upsert
// never renames an identity (warm is authoritative for identity, per
// §4.3 "Ordering").
func (w *Warm) Upsert(ctx context.Context, entry models.RegistryEntry, weightNew, weightOld float64) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingVec pgvector.Vector
	var exists bool
	err = tx.QueryRow(ctx, `SELECT feature_vector FROM horses WHERE id = $1 FOR UPDATE`, entry.ID).Scan(&existingVec)
	switch err {
	case nil:
		exists = true
	case pgx.ErrNoRows:
		exists = false
	default:
		return fmt.Errorf("lock existing entry: %w", err)
	}

	blended := entry.Features
	if exists && len(existingVec.Slice()) == len(entry.Features) && len(entry.Features) > 0 {
		blended = blendAndNormalize(entry.Features, existingVec.Slice(), weightNew, weightOld)
	}
	vec := pgvector.NewVector(blended)

	metadata, _ := json.Marshal(map[string]any{})

	_, err = tx.Exec(ctx, `
		INSERT INTO horses (id, tracking_id, stream_id, barn_id, name, is_official, color_hex,
			last_seen, total_detections, feature_vector, metadata, track_confidence, status, avatar_thumbnail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			stream_id        = excluded.stream_id,
			last_seen        = excluded.last_seen,
			total_detections = excluded.total_detections,
			feature_vector   = excluded.feature_vector,
			track_confidence = excluded.track_confidence,
			status           = excluded.status,
			avatar_thumbnail = COALESCE(excluded.avatar_thumbnail, horses.avatar_thumbnail),
			name             = COALESCE(horses.name, excluded.name),
			is_official      = horses.is_official OR excluded.is_official`,
		entry.ID, entry.TrackingID, entry.StreamID, entry.BarnID, nullableString(entry.Name), entry.IsOfficial,
		entry.ColorHex, time.Now(), entry.TotalDetections, vec, metadata, entry.TrackingConfidence,
		statusOrDefault(entry.Status), entry.ThumbnailBytes)
	if err != nil {
		return fmt.Errorf("upsert warm entry %s: %w", entry.ID, err)
	}

	return tx.Commit(ctx)
}

// UpdateName overwrites an identity's name and official flag. No code in
// this repository calls it.
func (w *Warm) UpdateName(ctx context.Context, id, name string, official bool) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE horses SET name = $1, is_official = $2 WHERE id = $3`, name, official, id)
	if err != nil {
		return fmt.Errorf("update name %s: %w", id, err)
	}
	return nil
}

// UpdateThumbnail overwrites an identity's avatar thumbnail (§4.7 step 4).
func (w *Warm) UpdateThumbnail(ctx context.Context, id string, thumbnail []byte) error {
	_, err := w.pool.Exec(ctx, `UPDATE horses SET avatar_thumbnail = $1 WHERE id = $2`, thumbnail, id)
	if err != nil {
		return fmt.Errorf("update thumbnail %s: %w", id, err)
	}
	return nil
}

// MarkArchived flips an identity's status so it no longer surfaces from
// ActiveByBarn (§3 "archived if unseen for the warm-retention window").
func (w *Warm) MarkArchived(ctx context.Context, id string) error {
	_, err := w.pool.Exec(ctx, `UPDATE horses SET status = 'archived' WHERE id = $1`, id)
	return err
}

// SearchByFeature finds the closest active identities in a barn to a query
// embedding. No code in this repository calls it; chunk processing seeds
// its tracker from LoadBarn only.
func (w *Warm) SearchByFeature(ctx context.Context, barnID string, feature []float32, threshold float64, limit int) ([]models.RegistryEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(feature)
	rows, err := w.pool.Query(ctx, `
		SELECT id, tracking_id, stream_id, barn_id, name, is_official, color_hex,
		       last_seen, total_detections, feature_vector, track_confidence,
		       status, avatar_thumbnail
		FROM horses
		WHERE barn_id = $1 AND status = 'active'
		  AND 1 - (feature_vector <=> $2) >= $3
		ORDER BY feature_vector <=> $2
		LIMIT $4`, barnID, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search by feature: %w", err)
	}
	defer rows.Close()

	var out []models.RegistryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func blendAndNormalize(newVec, oldVec []float32, weightNew, weightOld float64) []float32 {
	out := make([]float32, len(newVec))
	for i := range newVec {
		out[i] = float32(weightNew*float64(newVec[i]) + weightOld*float64(oldVec[i]))
	}
	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i := range out {
			out[i] *= norm
		}
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func statusOrDefault(s string) string {
	if s == "" {
		return "active"
	}
	return s
}
