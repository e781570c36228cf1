package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cronmon/internal/model"
	logx "cronmon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is a fixed-width UTC format so that lexicographic ordering in
// SQL matches chronological ordering.
const timeLayout = "2006-01-02 15:04:05"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Jobs(ctx context.Context) ([]model.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, installed, deleted FROM job WHERE deleted IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.JobSummary
	for rows.Next() {
		var j model.JobSummary
		var installed string
		var deleted sql.NullString
		if err := rows.Scan(&j.ID, &installed, &deleted); err != nil {
			return nil, err
		}
		if j.Installed, err = parseTime(installed); err != nil {
			return nil, err
		}
		if j.Deleted, err = parseNullTime(deleted); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) JobsFor(ctx context.Context, host, user string) ([]model.JobInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, user, name, command, time, timezone, installed, deleted
		   FROM job WHERE host = ? AND user = ? AND deleted IS NULL ORDER BY id`,
		host, user)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s@%s: %w", user, host, err)
	}
	defer rows.Close()

	var out []model.JobInfo
	for rows.Next() {
		info, err := scanJobInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *sqliteStore) JobInfo(ctx context.Context, id int64) (model.JobInfo, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, host, user, name, command, time, timezone, installed, deleted
		   FROM job WHERE id = ?`, id)
	info, err := scanJobInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobInfo{}, false, nil
	}
	if err != nil {
		return model.JobInfo{}, false, fmt.Errorf("job %d: %w", id, err)
	}
	return info, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobInfo(r rowScanner) (model.JobInfo, error) {
	var info model.JobInfo
	var name, timeSpec, timezone, deleted sql.NullString
	var installed string
	err := r.Scan(&info.ID, &info.Host, &info.User, &name, &info.Command,
		&timeSpec, &timezone, &installed, &deleted)
	if err != nil {
		return model.JobInfo{}, err
	}
	info.Name = name.String
	info.Time = timeSpec.String
	info.Timezone = timezone.String
	if info.Installed, err = parseTime(installed); err != nil {
		return model.JobInfo{}, err
	}
	if info.Deleted, err = parseNullTime(deleted); err != nil {
		return model.JobInfo{}, err
	}
	return info, nil
}

func (s *sqliteStore) JobEvents(ctx context.Context, id int64, limit int, start, end time.Time) ([]model.Event, error) {
	cond := "jobid = ?"
	args := []any{id}
	if !start.IsZero() {
		cond += " AND datetime >= ?"
		args = append(args, formatTime(start))
	}
	if !end.IsZero() {
		cond += " AND datetime < ?"
		args = append(args, formatTime(end))
	}

	q := `SELECT id, 1 AS type, NULL AS status, jobid, datetime FROM jobstart WHERE ` + cond + `
	      UNION ALL SELECT id, 2, status, jobid, datetime FROM jobwarn WHERE ` + cond + `
	      UNION ALL SELECT id, 3, status, jobid, datetime FROM jobfinish WHERE ` + cond + `
	      ORDER BY datetime DESC, type DESC, id DESC`
	all := append(append(append([]any{}, args...), args...), args...)
	if limit > 0 {
		q += " LIMIT ?"
		all = append(all, limit)
	}

	return s.queryEvents(ctx, q, all...)
}

func (s *sqliteStore) EventsSince(ctx context.Context, startID, warnID, finishID int64) ([]model.Event, error) {
	q := `SELECT id, 1 AS type, NULL AS status, jobid, datetime FROM jobstart WHERE id > ?
	      UNION ALL SELECT id, 2, status, jobid, datetime FROM jobwarn WHERE id > ?
	      UNION ALL SELECT id, 3, status, jobid, datetime FROM jobfinish WHERE id > ?
	      ORDER BY datetime ASC, type ASC, id ASC`
	return s.queryEvents(ctx, q, startID, warnID, finishID)
}

func (s *sqliteStore) queryEvents(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typ int
		var status sql.NullInt64
		var at string
		if err := rows.Scan(&ev.ID, &typ, &status, &ev.JobID, &at); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		if status.Valid {
			st := model.Status(status.Int64)
			ev.Status = &st
		}
		if ev.Time, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LogStart(ctx context.Context, host, user, name, command string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := checkJob(ctx, tx, host, user, name, command, nil, nil, now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobstart(jobid, command, datetime) VALUES(?,?,?)`,
			id, command, formatTime(now))
		return err
	})
}

func (s *sqliteStore) LogFinish(ctx context.Context, host, user, name, command string, status model.Status) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := checkJob(ctx, tx, host, user, name, command, nil, nil, now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobfinish(jobid, status, datetime) VALUES(?,?,?)`,
			id, int(status), formatTime(now))
		return err
	})
}

func (s *sqliteStore) LogWarning(ctx context.Context, id int64, status model.Status) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobwarn(jobid, status, datetime) VALUES(?,?,?)`,
		id, int(status), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("log warning for job %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// checkJob resolves a job row by host/user/name (or host/user/command when
// the job carries no name label), creating or undeleting it as needed.
//
// timeSpec/timezone are nil when the caller does not know the definition
// (runner reports); non-nil values update the stored definition and bump
// the installed timestamp so the monitor reloads the schedule.
func checkJob(ctx context.Context, tx *sql.Tx, host, user, name, command string, timeSpec, timezone *string, now time.Time) (int64, error) {
	var (
		id      int64
		curCmd  string
		curTime sql.NullString
		curTZ   sql.NullString
		deleted sql.NullString
		err     error
	)
	if name != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT id, command, time, timezone, deleted FROM job
			  WHERE host = ? AND user = ? AND name = ?`,
			host, user, name).Scan(&id, &curCmd, &curTime, &curTZ, &deleted)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT id, command, time, timezone, deleted FROM job
			  WHERE host = ? AND user = ? AND name IS NULL AND command = ?`,
			host, user, command).Scan(&id, &curCmd, &curTime, &curTZ, &deleted)
	}

	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO job(host, user, name, command, time, timezone, installed)
			 VALUES(?,?,?,?,?,?,?)`,
			host, user, nullStr(name), command,
			nullStrPtr(timeSpec), nullStrPtr(timezone), formatTime(now))
		if err != nil {
			return 0, fmt.Errorf("insert job: %w", err)
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, fmt.Errorf("find job: %w", err)
	}

	changed := deleted.Valid ||
		curCmd != command ||
		(timeSpec != nil && curTime.String != *timeSpec) ||
		(timezone != nil && curTZ.String != *timezone)
	if !changed {
		return id, nil
	}

	newTime := any(curTime)
	if timeSpec != nil {
		newTime = nullStrPtr(timeSpec)
	}
	newTZ := any(curTZ)
	if timezone != nil {
		newTZ = nullStrPtr(timezone)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE job SET command = ?, time = ?, timezone = ?, installed = ?, deleted = NULL
		  WHERE id = ?`,
		command, newTime, newTZ, formatTime(now), id)
	if err != nil {
		return 0, fmt.Errorf("update job: %w", err)
	}
	return id, nil
}

func deleteJob(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE job SET deleted = ? WHERE id = ?`, formatTime(now), id)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullStrPtr(v *string) any {
	if v == nil {
		return nil
	}
	return nullStr(*v)
}
