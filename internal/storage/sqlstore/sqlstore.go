// Package sqlstore implements the day and artifact stores on top of database/sql.
// The SQLite and PostgreSQL stores share it and differ only in dialect and lifecycle.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/migration"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/storage"
)

// TimestampLayout is fixed-width so stored timestamps compare correctly as text
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queries runs the store's statements against a database
type Queries struct {
	db      *sql.DB
	dialect migration.Dialect
}

// New creates Queries for an open database
func New(db *sql.DB, dialect migration.Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

func (q *Queries) bind(query string) string {
	return q.dialect.Rebind(query)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

func encodeJSON(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (q *Queries) GetDaySequence(ctx context.Context, userID string) ([]models.DayRecord, error) {
	rows, err := q.db.QueryContext(ctx, q.bind(`
		SELECT user_id, date, schedule, user_data, last_modified
		FROM days WHERE user_id = ? ORDER BY date`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []models.DayRecord
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate days: %w", err)
	}
	return days, nil
}

func (q *Queries) GetAllUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM days ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) GetDay(ctx context.Context, userID, date string) (models.DayRecord, error) {
	return q.getDay(ctx, q.db, userID, date)
}

func (q *Queries) getDay(ctx context.Context, db querier, userID, date string) (models.DayRecord, error) {
	row := db.QueryRowContext(ctx, q.bind(`
		SELECT user_id, date, schedule, user_data, last_modified
		FROM days WHERE user_id = ? AND date = ?`), userID, date)
	day, err := scanDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DayRecord{}, fmt.Errorf("day %s for user %s: %w", date, userID, storage.ErrNotFound)
	}
	return day, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDay(s scanner) (models.DayRecord, error) {
	var (
		day                models.DayRecord
		schedule, userData sql.NullString
		modified           string
	)
	if err := s.Scan(&day.UserID, &day.Date, &schedule, &userData, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return day, err
		}
		return day, fmt.Errorf("failed to scan day: %w", err)
	}

	if schedule.Valid {
		day.Schedule = &models.Schedule{}
		if err := json.Unmarshal([]byte(schedule.String), day.Schedule); err != nil {
			return day, fmt.Errorf("failed to decode schedule for %s: %w", day.Date, err)
		}
	}
	if userData.Valid {
		day.UserData = &models.UserData{}
		if err := json.Unmarshal([]byte(userData.String), day.UserData); err != nil {
			return day, fmt.Errorf("failed to decode user data for %s: %w", day.Date, err)
		}
	}
	t, err := parseTimestamp(modified)
	if err != nil {
		return day, fmt.Errorf("failed to parse last_modified for %s: %w", day.Date, err)
	}
	day.LastModified = t
	return day, nil
}

const upsertDay = `
	INSERT INTO days (user_id, date, schedule, user_data, last_modified)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id, date) DO UPDATE SET
		schedule = excluded.schedule,
		user_data = excluded.user_data,
		last_modified = excluded.last_modified`

func (q *Queries) SaveDay(ctx context.Context, day models.DayRecord) error {
	if day.LastModified.IsZero() {
		day.LastModified = time.Now()
	}
	return q.saveDay(ctx, q.db, day, upsertDay+" WHERE excluded.last_modified >= days.last_modified")
}

func (q *Queries) saveDay(ctx context.Context, db querier, day models.DayRecord, stmt string) error {
	if day.UserID == "" || day.Date == "" {
		return fmt.Errorf("day record needs a user and a date")
	}
	schedule, err := encodeJSON(day.Schedule, day.Schedule != nil)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	userData, err := encodeJSON(day.UserData, day.UserData != nil)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}

	_, err = db.ExecContext(ctx, q.bind(stmt),
		day.UserID, day.Date, schedule, userData, formatTimestamp(day.LastModified))
	if err != nil {
		return fmt.Errorf("failed to save day %s: %w", day.Date, err)
	}
	return nil
}

func (q *Queries) PersistPredictions(ctx context.Context, userID, date string, predictions []models.Prediction) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	day, err := q.getDay(ctx, tx, userID, date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		day = models.DayRecord{UserID: userID, Date: date}
	case err != nil:
		return err
	}

	if day.UserData == nil {
		day.UserData = &models.UserData{}
	}
	entries := make([]models.MLEntry, len(predictions))
	for i, p := range predictions {
		entries[i] = p.Entry()
	}
	day.UserData.MLData = entries
	day.LastModified = time.Now()

	if err := q.saveDay(ctx, tx, day, upsertDay); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit predictions: %w", err)
	}
	return nil
}

func (q *Queries) DeleteUser(ctx context.Context, userID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, q.bind("DELETE FROM days WHERE user_id = ?"), userID); err != nil {
		return fmt.Errorf("failed to delete days: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q.bind("DELETE FROM model_artifacts WHERE kind = ? AND user_id = ?"),
		string(constants.ArtifactPrivate), userID); err != nil {
		return fmt.Errorf("failed to delete private model: %w", err)
	}
	return tx.Commit()
}

func (q *Queries) LoadArtifact(ctx context.Context, kind constants.ArtifactKind, userID string) (forecast.Artifact, error) {
	var payload string
	err := q.db.QueryRowContext(ctx, q.bind(
		"SELECT payload FROM model_artifacts WHERE kind = ? AND user_id = ?"), string(kind), userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return forecast.Artifact{}, fmt.Errorf("%s artifact: %w", kind, storage.ErrNotFound)
	}
	if err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to load %s artifact: %w", kind, err)
	}

	var a forecast.Artifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to decode %s artifact: %w", kind, err)
	}
	if err := a.Validate(); err != nil {
		return forecast.Artifact{}, err
	}
	return a, nil
}

func (q *Queries) SaveArtifact(ctx context.Context, a forecast.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	global := ""
	if a.GlobalVersion != uuid.Nil {
		global = a.GlobalVersion.String()
	}

	_, err = q.db.ExecContext(ctx, q.bind(`
		INSERT INTO model_artifacts (kind, user_id, version, global_version, trained_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, user_id) DO UPDATE SET
			version = excluded.version,
			global_version = excluded.global_version,
			trained_at = excluded.trained_at,
			payload = excluded.payload`),
		string(a.Kind), a.UserID, a.Version.String(), global, formatTimestamp(a.TrainedAt), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save %s artifact: %w", a.Kind, err)
	}
	return nil
}

func (q *Queries) Stats(ctx context.Context) (storage.Stats, error) {
	var s storage.Stats
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT user_id), COUNT(*) FROM days").Scan(&s.Users, &s.Days)
	if err != nil {
		return s, fmt.Errorf("failed to count days: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM model_artifacts GROUP BY kind")
	if err != nil {
		return s, fmt.Errorf("failed to count artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return s, fmt.Errorf("failed to scan artifact count: %w", err)
		}
		switch constants.ArtifactKind(kind) {
		case constants.ArtifactGlobal:
			s.GlobalArtifacts = n
		case constants.ArtifactPrivate:
			s.PrivateArtifacts = n
		}
	}
	return s, rows.Err()
}
