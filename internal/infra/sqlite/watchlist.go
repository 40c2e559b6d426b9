package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

const (
	defaultOutDir   = "yt"
	defaultLogLevel = "INFO"

	watchColumns = `id, handle, mode, interval_minutes, last_check_ts, last_enqueued_ts,
		subs, no_cache, out_dir, log_level, clear_screen, tags`
)

// WatchPatch lists the fields to change on an entry. Nil fields are left
// untouched; a non-nil empty Tags clears the tags.
type WatchPatch struct {
	Handle          *string         `json:"handle,omitempty"`
	Mode            *domain.Command `json:"mode,omitempty"`
	IntervalMinutes *int            `json:"interval_minutes,omitempty"`
	Subs            *bool           `json:"subs,omitempty"`
	NoCache         *bool           `json:"no_cache,omitempty"`
	OutDir          *string         `json:"out_dir,omitempty"`
	LogLevel        *string         `json:"log_level,omitempty"`
	ClearScreen     *bool           `json:"clear_screen,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
}

// Watchlist stores watch entries.
type Watchlist struct {
	db *sql.DB
}

// NewWatchlist wraps an open database.
func NewWatchlist(db *sql.DB) *Watchlist {
	return &Watchlist{db: db}
}

// Close closes the database connection.
func (w *Watchlist) Close() error {
	return w.db.Close()
}

// List returns all entries ordered by handle (case-insensitive), then ID.
func (w *Watchlist) List(ctx context.Context) ([]domain.WatchEntry, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watchlist ORDER BY LOWER(handle), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch entries: %w", err)
	}
	return scanEntries(rows)
}

// Get returns one entry or domain.ErrWatchNotFound.
func (w *Watchlist) Get(ctx context.Context, id int64) (domain.WatchEntry, error) {
	row := w.db.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watchlist WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WatchEntry{}, fmt.Errorf("%w: %d", domain.ErrWatchNotFound, id)
	}
	if err != nil {
		return domain.WatchEntry{}, fmt.Errorf("failed to get watch entry: %w", err)
	}
	return entry, nil
}

// Create validates and inserts an entry, returning its ID. Timestamps on the
// input are ignored.
func (w *Watchlist) Create(ctx context.Context, e domain.WatchEntry) (int64, error) {
	e.Handle = strings.TrimSpace(e.Handle)
	if e.Handle == "" {
		return 0, fmt.Errorf("%w: handle is required", domain.ErrInvalidWatch)
	}
	if e.Mode == "" {
		e.Mode = domain.CommandChannel
	}
	if err := validateMode(e.Mode); err != nil {
		return 0, err
	}
	if e.IntervalMinutes == 0 {
		e.IntervalMinutes = 60
	}
	if e.IntervalMinutes < 0 {
		return 0, fmt.Errorf("%w: interval must be positive", domain.ErrInvalidWatch)
	}

	res, err := w.db.ExecContext(ctx, `
		INSERT INTO watchlist (handle, mode, interval_minutes, subs, no_cache, out_dir, log_level, clear_screen, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Handle,
		string(e.Mode),
		e.IntervalMinutes,
		e.Subs,
		e.NoCache,
		cleanOutDir(e.OutDir),
		cleanLogLevel(e.LogLevel),
		e.ClearScreen,
		joinTags(e.Tags),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create watch entry: %w", err)
	}
	return res.LastInsertId()
}

// Update applies a partial update. An empty patch is a no-op.
func (w *Watchlist) Update(ctx context.Context, id int64, p WatchPatch) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+" = ?")
		args = append(args, v)
	}

	if p.Handle != nil {
		h := strings.TrimSpace(*p.Handle)
		if h == "" {
			return fmt.Errorf("%w: handle cannot be empty", domain.ErrInvalidWatch)
		}
		set("handle", h)
	}
	if p.Mode != nil {
		if err := validateMode(*p.Mode); err != nil {
			return err
		}
		set("mode", string(*p.Mode))
	}
	if p.IntervalMinutes != nil {
		if *p.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: interval must be positive", domain.ErrInvalidWatch)
		}
		set("interval_minutes", *p.IntervalMinutes)
	}
	if p.Subs != nil {
		set("subs", *p.Subs)
	}
	if p.NoCache != nil {
		set("no_cache", *p.NoCache)
	}
	if p.OutDir != nil {
		set("out_dir", cleanOutDir(*p.OutDir))
	}
	if p.LogLevel != nil {
		set("log_level", cleanLogLevel(*p.LogLevel))
	}
	if p.ClearScreen != nil {
		set("clear_screen", *p.ClearScreen)
	}
	if p.Tags != nil {
		set("tags", joinTags(p.Tags))
	}
	if len(fields) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := w.db.ExecContext(ctx,
		`UPDATE watchlist SET `+strings.Join(fields, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update watch entry: %w", err)
	}
	return requireRow(res, id)
}

// Delete removes an entry.
func (w *Watchlist) Delete(ctx context.Context, id int64) error {
	res, err := w.db.ExecContext(ctx, `DELETE FROM watchlist WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete watch entry: %w", err)
	}
	return requireRow(res, id)
}

// DueEntries returns up to limit entries whose interval has elapsed at now,
// least recently checked first. A limit <= 0 means no limit.
func (w *Watchlist) DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.WatchEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT `+watchColumns+`
		FROM watchlist
		WHERE last_check_ts IS NULL
		   OR (? - last_check_ts) >= (interval_minutes * 60)
		ORDER BY COALESCE(last_check_ts, 0) ASC, id ASC
		LIMIT ?`, toUnix(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	return scanEntries(rows)
}

// Touch records ts as the last check time of every id.
func (w *Watchlist) Touch(ctx context.Context, ids []int64, ts time.Time) error {
	return w.stamp(ctx, "last_check_ts", ids, ts)
}

// MarkEnqueued records ts as the last time each id produced a job.
func (w *Watchlist) MarkEnqueued(ctx context.Context, ids []int64, ts time.Time) error {
	return w.stamp(ctx, "last_enqueued_ts", ids, ts)
}

func (w *Watchlist) stamp(ctx context.Context, col string, ids []int64, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE watchlist SET `+col+` = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare %s update: %w", col, err)
	}
	defer stmt.Close()

	unix := toUnix(ts)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, unix, id); err != nil {
			return fmt.Errorf("failed to update %s: %w", col, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.WatchEntry, error) {
	var (
		e         domain.WatchEntry
		mode      string
		lastCheck sql.NullFloat64
		lastEnq   sql.NullFloat64
		tags      string
	)
	err := s.Scan(
		&e.ID,
		&e.Handle,
		&mode,
		&e.IntervalMinutes,
		&lastCheck,
		&lastEnq,
		&e.Subs,
		&e.NoCache,
		&e.OutDir,
		&e.LogLevel,
		&e.ClearScreen,
		&tags,
	)
	if err != nil {
		return domain.WatchEntry{}, err
	}
	e.Mode = domain.Command(mode)
	e.LastCheckTS = fromUnix(lastCheck)
	e.LastEnqueuedTS = fromUnix(lastEnq)
	e.Tags = splitTags(tags)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.WatchEntry, error) {
	defer rows.Close()
	var entries []domain.WatchEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrWatchNotFound, id)
	}
	return nil
}

func validateMode(mode domain.Command) error {
	if !mode.NeedsHandle() {
		return fmt.Errorf("%w: mode must be 'channel' or 'shorts'", domain.ErrInvalidWatch)
	}
	return nil
}

func cleanOutDir(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return defaultOutDir
	}
	return s
}

func cleanLogLevel(s string) string {
	if s = strings.ToUpper(strings.TrimSpace(s)); s == "" {
		return defaultLogLevel
	}
	return s
}

func joinTags(tags []string) string {
	set := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			set = append(set, t)
		}
	}
	slices.Sort(set)
	return strings.Join(slices.Compact(set), ",")
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(v sql.NullFloat64) *time.Time {
	if !v.Valid {
		return nil
	}
	sec, frac := math.Modf(v.Float64)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}
