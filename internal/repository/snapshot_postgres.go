package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	applogger "FinSignal/pkg/logger"
)

const snapshotsTable = "signal_snapshots"

// SnapshotSchema is the Postgres DDL for the snapshot table.
var SnapshotSchema = []string{
	`CREATE TABLE IF NOT EXISTS signal_snapshots (
    id                BIGSERIAL PRIMARY KEY,
    run_id            TEXT NOT NULL DEFAULT '',
    symbol            TEXT NOT NULL,
    pair              TEXT NOT NULL,
    "interval"        TEXT NOT NULL,
    generated_at      TIMESTAMPTZ NOT NULL,
    price_now         DOUBLE PRECISION,
    signal_rule       TEXT NOT NULL,
    signal_score      DOUBLE PRECISION NOT NULL,
    signal_confidence DOUBLE PRECISION NOT NULL,
    signal_reasons    TEXT[] NOT NULL DEFAULT '{}',
    features_payload  JSONB NOT NULL,
    is_missing_data   BOOLEAN NOT NULL DEFAULT FALSE,
    price_future      DOUBLE PRECISION,
    label_direction   TEXT,
    label_magnitude   DOUBLE PRECISION,
    labeled_at        TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (symbol, "interval", generated_at),
    CHECK ((price_future IS NULL) = (label_direction IS NULL))
)`,
	`CREATE INDEX IF NOT EXISTS signal_snapshots_pending_idx
    ON signal_snapshots (symbol, generated_at) WHERE price_future IS NULL`,
}

const snapshotColumns = `id, run_id, symbol, pair, "interval", generated_at, price_now, signal_rule,
    signal_score, signal_confidence, signal_reasons, features_payload, is_missing_data,
    price_future, label_direction, label_magnitude, labeled_at, created_at, updated_at`

type snapshotRow struct {
	ID               int64           `db:"id"`
	RunID            string          `db:"run_id"`
	Symbol           string          `db:"symbol"`
	Pair             string          `db:"pair"`
	Interval         string          `db:"interval"`
	GeneratedAt      time.Time       `db:"generated_at"`
	PriceNow         sql.NullFloat64 `db:"price_now"`
	SignalRule       string          `db:"signal_rule"`
	SignalScore      float64         `db:"signal_score"`
	SignalConfidence float64         `db:"signal_confidence"`
	SignalReasons    pq.StringArray  `db:"signal_reasons"`
	FeaturesPayload  []byte          `db:"features_payload"`
	IsMissingData    bool            `db:"is_missing_data"`
	PriceFuture      sql.NullFloat64 `db:"price_future"`
	LabelDirection   sql.NullString  `db:"label_direction"`
	LabelMagnitude   sql.NullFloat64 `db:"label_magnitude"`
	LabeledAt        sql.NullTime    `db:"labeled_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r *snapshotRow) toModel() (*models.SignalSnapshot, error) {
	s := &models.SignalSnapshot{
		ID:               r.ID,
		RunID:            r.RunID,
		Symbol:           r.Symbol,
		Pair:             r.Pair,
		Interval:         r.Interval,
		GeneratedAt:      r.GeneratedAt.UTC(),
		SignalRule:       models.Action(r.SignalRule),
		SignalScore:      r.SignalScore,
		SignalConfidence: r.SignalConfidence,
		SignalReasons:    []string(r.SignalReasons),
		IsMissingData:    r.IsMissingData,
		LabelDirection:   models.LabelDirection(r.LabelDirection.String),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.PriceNow.Valid {
		s.PriceNow = models.Float64Ptr(r.PriceNow.Float64)
	}
	if r.PriceFuture.Valid {
		s.PriceFuture = models.Float64Ptr(r.PriceFuture.Float64)
	}
	if r.LabelMagnitude.Valid {
		s.LabelMagnitude = models.Float64Ptr(r.LabelMagnitude.Float64)
	}
	if r.LabeledAt.Valid {
		s.LabeledAt = models.TimePtr(r.LabeledAt.Time.UTC())
	}
	if len(r.FeaturesPayload) > 0 {
		if err := json.Unmarshal(r.FeaturesPayload, &s.FeaturesPayload); err != nil {
			return nil, fmt.Errorf("decode features_payload for %s: %w", s.Key(), err)
		}
	}
	return s, nil
}

// PGSnapshotRepository stores snapshots in Postgres.
type PGSnapshotRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	l            *applogger.Logger
}

func NewPGSnapshotRepository(db *sqlx.DB, queryTimeout time.Duration) *PGSnapshotRepository {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &PGSnapshotRepository{db: db, queryTimeout: queryTimeout}
}

var _ domrepo.SnapshotRepository = (*PGSnapshotRepository)(nil)

// SetLogger injects a structured logger.
func (r *PGSnapshotRepository) SetLogger(l *applogger.Logger) { r.l = l }

// Migrate creates the table and indexes when missing.
func (r *PGSnapshotRepository) Migrate(ctx context.Context) error {
	for _, stmt := range SnapshotSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", snapshotsTable, err)
		}
	}
	return nil
}

func (r *PGSnapshotRepository) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PGSnapshotRepository) Close() error {
	return r.db.Close()
}

func (r *PGSnapshotRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Save inserts s. Saving an identity that already exists is a no-op that
// returns the stored id, run_id and timestamps.
func (r *PGSnapshotRepository) Save(ctx context.Context, s *models.SignalSnapshot) error {
	if err := s.CheckPairing(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	features, err := json.Marshal(s.FeaturesPayload)
	if err != nil {
		return fmt.Errorf("encode features_payload: %w", err)
	}
	reasons := s.SignalReasons
	if reasons == nil {
		reasons = []string{}
	}

	const q = `INSERT INTO signal_snapshots (run_id, symbol, pair, "interval", generated_at, price_now,
    signal_rule, signal_score, signal_confidence, signal_reasons, features_payload, is_missing_data,
    price_future, label_direction, label_magnitude, labeled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (symbol, "interval", generated_at) DO UPDATE SET run_id = signal_snapshots.run_id
RETURNING id, run_id, created_at, updated_at`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	err = r.db.QueryRowxContext(ctx, q,
		s.RunID, s.Symbol, s.Pair, s.Interval, s.GeneratedAt.UTC(), nullFloat(s.PriceNow),
		string(s.SignalRule), s.SignalScore, s.SignalConfidence, pq.StringArray(reasons), features, s.IsMissingData,
		nullFloat(s.PriceFuture), nullDirection(s.LabelDirection), nullFloat(s.LabelMagnitude), nullTime(s.LabeledAt),
	).Scan(&s.ID, &s.RunID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		r.logError("postgres save snapshot error", s, err)
		return fmt.Errorf("save snapshot %s: %w", s.Key(), err)
	}
	return nil
}

// FindEligibleForLabeling returns snapshots generated at or before cutoff,
// oldest first. Labeled rows are included only when force is set.
func (r *PGSnapshotRepository) FindEligibleForLabeling(ctx context.Context, symbol string, cutoff time.Time, force bool, limit int) ([]*models.SignalSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM %s
WHERE symbol = $1 AND generated_at <= $2 AND ($3 OR price_future IS NULL)
ORDER BY generated_at ASC
LIMIT $4`, snapshotColumns, snapshotsTable)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, q, symbol, cutoff.UTC(), force, limit); err != nil {
		return nil, fmt.Errorf("find eligible snapshots: %w", err)
	}
	return toModels(rows)
}

// QueryRange returns snapshots with generated_at in [start, end], oldest first.
func (r *PGSnapshotRepository) QueryRange(ctx context.Context, symbol string, start, end time.Time, onlyLabeled bool) ([]*models.SignalSnapshot, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
WHERE symbol = $1 AND generated_at >= $2 AND generated_at <= $3 AND (NOT $4 OR price_future IS NOT NULL)
ORDER BY generated_at ASC`, snapshotColumns, snapshotsTable)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, q, symbol, start.UTC(), end.UTC(), onlyLabeled); err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return toModels(rows)
}

// Update writes the named fields of s. When s carries UpdatedAt the write
// only succeeds if the row has not changed since it was read.
func (r *PGSnapshotRepository) Update(ctx context.Context, s *models.SignalSnapshot, fields ...string) error {
	if err := models.ValidateUpdateFields(fields); err != nil {
		return err
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+4)
	for _, f := range fields {
		args = append(args, fieldValue(s, f))
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, s.Symbol, s.Interval, s.GeneratedAt.UTC())
	where := fmt.Sprintf(`symbol = $%d AND "interval" = $%d AND generated_at = $%d`, len(args)-2, len(args)-1, len(args))
	if !s.UpdatedAt.IsZero() {
		args = append(args, s.UpdatedAt)
		where += fmt.Sprintf(" AND updated_at = $%d", len(args))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING updated_at", snapshotsTable, strings.Join(sets, ", "), where)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx, q, args...).Scan(&updatedAt)
	switch {
	case err == nil:
		s.UpdatedAt = updatedAt
		return nil
	case errors.Is(err, sql.ErrNoRows):
		exists, xerr := r.exists(ctx, s)
		if xerr != nil {
			return fmt.Errorf("update snapshot %s: %w", s.Key(), xerr)
		}
		if exists {
			return fmt.Errorf("update snapshot %s: %w", s.Key(), models.ErrConcurrentLabelConflict)
		}
		return fmt.Errorf("update snapshot %s: %w", s.Key(), models.ErrSnapshotNotFound)
	default:
		r.logError("postgres update snapshot error", s, err)
		return fmt.Errorf("update snapshot %s: %w", s.Key(), err)
	}
}

func (r *PGSnapshotRepository) exists(ctx context.Context, s *models.SignalSnapshot) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM signal_snapshots WHERE symbol = $1 AND "interval" = $2 AND generated_at = $3)`,
		s.Symbol, s.Interval, s.GeneratedAt.UTC())
	return ok, err
}

func (r *PGSnapshotRepository) logError(msg string, s *models.SignalSnapshot, err error) {
	if r.l == nil {
		return
	}
	r.l.Error(msg,
		applogger.String("symbol", s.Symbol),
		applogger.String("interval", s.Interval),
		applogger.Time("generated_at", s.GeneratedAt),
		applogger.Error(err),
	)
}

func fieldValue(s *models.SignalSnapshot, field string) interface{} {
	switch field {
	case models.FieldPriceNow:
		return nullFloat(s.PriceNow)
	case models.FieldPriceFuture:
		return nullFloat(s.PriceFuture)
	case models.FieldLabelDirection:
		return nullDirection(s.LabelDirection)
	case models.FieldLabelMagnitude:
		return nullFloat(s.LabelMagnitude)
	case models.FieldLabeledAt:
		return nullTime(s.LabeledAt)
	}
	return nil
}

func toModels(rows []snapshotRow) ([]*models.SignalSnapshot, error) {
	out := make([]*models.SignalSnapshot, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullDirection(d models.LabelDirection) sql.NullString {
	if d == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(d), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
