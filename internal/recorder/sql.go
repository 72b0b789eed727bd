package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"SeriesHarvester/internal/config"
	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/model"
)

// SQLRecorder keeps one table per series plus a run log, in SQLite or MySQL.
type SQLRecorder struct {
	db     *sql.DB
	driver string
	log    *logger.Entry
}

// NewSQLRecorder opens (or creates) the configured database and runs migrations.
func NewSQLRecorder(cfg config.Database) (*SQLRecorder, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = cfg.Host
		mc.DBName = cfg.Name
		mc.ParseTime = true
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, fmt.Errorf("mysql config: %w", err)
		}
		db = sql.OpenDB(connector)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect mysql %s: %w", cfg.Host, err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	r := &SQLRecorder{
		db:     db,
		driver: cfg.Driver,
		log:    logger.GetLogger().WithComponent("recorder").WithField("sink", cfg.Driver),
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info("sql recorder opened")
	return r, nil
}

func (r *SQLRecorder) migrate() error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `" + RunsTable + "` (" +
			"`run_id` VARCHAR(36) NOT NULL PRIMARY KEY," +
			"`started_at` BIGINT NOT NULL," +
			"`finished_at` BIGINT NOT NULL," +
			"`span_start` VARCHAR(10)," +
			"`span_end` VARCHAR(10)," +
			"`stored` INTEGER," +
			"`empty` INTEGER," +
			"`failed` INTEGER," +
			"`details` TEXT)",
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Store replaces the series table with ds. The rows are first written to a
// staging table so the previous table survives a failed insert.
func (r *SQLRecorder) Store(ctx context.Context, name string, ds *model.Dataset) error {
	if ds.Empty() {
		r.log.WithField("series", name).Info("nothing to store, table left untouched")
		return nil
	}
	table, err := ObjectName(name)
	if err != nil {
		return err
	}
	staging := table + StagingSuffix

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", staging)); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE `%s` (`date` %s NOT NULL, `value` DOUBLE)", staging, r.dateType())); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	if err := r.insert(ctx, staging, ds.Observations); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE `%s` RENAME TO `%s`", staging, table)); err != nil {
		return fmt.Errorf("rename staging table to %s: %w", table, err)
	}

	r.log.WithFields(logger.Fields{"series": name, "table": table, "rows": ds.Len()}).Info("series stored")
	return nil
}

// dateType keeps sqlite dates as plain ISO text.
func (r *SQLRecorder) dateType() string {
	if r.driver == "mysql" {
		return "DATE"
	}
	return "TEXT"
}

func (r *SQLRecorder) insert(ctx context.Context, table string, obs []model.Observation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO `%s` (`date`, `value`) VALUES (?, ?)", table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		var v any
		if o.Value != nil {
			v = *o.Value
		}
		if _, err := stmt.ExecContext(ctx, o.Date.Format(time.DateOnly), v); err != nil {
			return fmt.Errorf("insert %s: %w", o.Date.Format(time.DateOnly), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLRecorder) RecordRun(ctx context.Context, run *RunRecord) error {
	details, err := json.Marshal(run.Series)
	if err != nil {
		return fmt.Errorf("marshal run details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO `"+RunsTable+"` "+
		"(`run_id`, `started_at`, `finished_at`, `span_start`, `span_end`, `stored`, `empty`, `failed`, `details`) "+
		"VALUES (?,?,?,?,?,?,?,?,?)",
		run.RunID, run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.SpanStart.Format(time.DateOnly), run.SpanEnd.Format(time.DateOnly),
		run.Count(StatusStored), run.Count(StatusEmpty), run.Count(StatusFailed), string(details),
	)
	return err
}

func (r *SQLRecorder) Close() error {
	r.log.Info("closing sql recorder")
	return r.db.Close()
}
