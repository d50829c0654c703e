package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/struggle/internal/errors"
)

type objectType string

const (
	objectTable   objectType = "table"
	objectIndex   objectType = "index"
	objectTrigger objectType = "trigger"
)

// schemaDiff is a single object whose definition differs between the live and the target schema.
// An empty liveSQL means the object is new and an empty targetSQL means it was removed.
type schemaDiff struct {
	name      string
	liveSQL   string
	targetSQL string
}

// migrateTo makes the live schema match schema declaratively.
//
// The target schema is created in an attached in-memory database and diffed against sqlite_schema. Changed tables
// are rebuilt with the generalized ALTER TABLE procedure https://www.sqlite.org/lang_altertable.html#otheralter,
// copying the columns both versions share. Indexes and triggers are dropped and recreated when they change.
func (db *Database) migrateTo(ctx context.Context, schema string) (err error) {
	start := time.Now()

	detach, err := db.attachTarget(ctx, schema)
	if err != nil {
		return fmt.Errorf("attach target schema: %w", err)
	}
	defer detach()

	if _, err = db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = ON"); fkErr != nil {
			err = errors.Join(err, fmt.Errorf("enable foreign keys: %w", fkErr))
		}
	}()

	tx, err := db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer db.rollback(ctx, tx)

	if err = db.migrateTables(ctx, tx); err != nil {
		return fmt.Errorf("migrate tables: %w", err)
	}
	for _, typ := range []objectType{objectIndex, objectTrigger} {
		if err = db.migrateObjects(ctx, tx, typ); err != nil {
			return fmt.Errorf("migrate %ss: %w", typ, err)
		}
	}

	var violations int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_foreign_key_check").Scan(&violations); err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	if violations > 0 {
		return errors.New("foreign key violations after migration", slog.Int("violations", violations))
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "migrated database", slog.Duration("duration", time.Since(start)))
	return nil
}

// attachTarget creates schema in a fresh in-memory database and attaches it as schemaTarget.
func (db *Database) attachTarget(ctx context.Context, schema string) (func(), error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", rand.Text())
	target, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	// The shared cache keeps the in-memory database alive until it is attached.
	defer func() {
		if closeErr := target.Close(); closeErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to close target schema", errors.SlogError(closeErr))
		}
	}()
	if _, err = target.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create target schema: %w", err)
	}
	if _, err = db.ReadWrite.ExecContext(ctx, "ATTACH DATABASE ? AS schemaTarget", dsn); err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	return func() {
		if _, detachErr := db.ReadWrite.ExecContext(ctx, "DETACH DATABASE schemaTarget"); detachErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to detach target schema", errors.SlogError(detachErr))
		}
	}, nil
}

func (db *Database) rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		db.logger.LogAttrs(ctx, slog.LevelError, "failed to rollback transaction", errors.SlogError(err))
	}
}

// diff lists objects of typ that were added, removed or changed in the target schema.
func (db *Database) diff(ctx context.Context, tx *sql.Tx, typ objectType) (_ []schemaDiff, err error) {
	// Table renames quote the name in sqlite_schema so quotes are ignored in the comparison.
	rows, err := tx.QueryContext(ctx, `
WITH live AS (SELECT name, sql
              FROM main.sqlite_schema
              WHERE type = :type AND sql IS NOT NULL
                AND name NOT LIKE 'sqlite_%' AND name NOT LIKE '_litestream_%'),
     target AS (SELECT name, sql
                FROM schemaTarget.sqlite_schema
                WHERE type = :type AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%')
SELECT COALESCE(live.name, target.name), COALESCE(live.sql, ''), COALESCE(target.sql, '')
FROM live
         FULL OUTER JOIN target ON live.name = target.name
WHERE live.sql IS NULL
   OR target.sql IS NULL
   OR REPLACE(live.sql, '"', '') <> REPLACE(target.sql, '"', '')
ORDER BY 1`, sql.Named("type", string(typ)))
	if err != nil {
		return nil, fmt.Errorf("query schema diff: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	var diffs []schemaDiff
	for rows.Next() {
		var d schemaDiff
		if err = rows.Scan(&d.name, &d.liveSQL, &d.targetSQL); err != nil {
			return nil, fmt.Errorf("scan schema diff: %w", err)
		}
		diffs = append(diffs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema diff: %w", err)
	}
	return diffs, nil
}

func (db *Database) exec(ctx context.Context, tx *sql.Tx, msg string, query string) error {
	db.logger.LogAttrs(ctx, slog.LevelInfo, msg, slog.String("query", query))
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, msg, slog.String("query", query))
	}
	return nil
}

func (db *Database) migrateTables(ctx context.Context, tx *sql.Tx) error {
	diffs, err := db.diff(ctx, tx, objectTable)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		switch {
		case d.targetSQL == "":
			err = db.exec(ctx, tx, "dropping table", fmt.Sprintf("DROP TABLE %q", d.name))
		case d.liveSQL == "":
			err = db.exec(ctx, tx, "creating table", d.targetSQL)
		default:
			err = db.rebuildTable(ctx, tx, d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// rebuildTable recreates a changed table under a temporary name, copies the shared columns and swaps it in.
func (db *Database) rebuildTable(ctx context.Context, tx *sql.Tx, d schemaDiff) error {
	tmp := d.name + "_migration_temp"
	if err := db.exec(ctx, tx, "creating rebuilt table", strings.Replace(d.targetSQL, d.name, tmp, 1)); err != nil {
		return err
	}

	var columns string
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(GROUP_CONCAT('"' || target.name || '"', ', '), '')
FROM pragma_table_info(:table) AS live
         JOIN pragma_table_info(:table, 'schemaTarget') AS target ON target.name = live.name`,
		sql.Named("table", d.name)).Scan(&columns); err != nil {
		return fmt.Errorf("query shared columns of %s: %w", d.name, err)
	}
	if columns != "" {
		copySQL := fmt.Sprintf("INSERT INTO %q (%s) SELECT %s FROM %q", tmp, columns, columns, d.name)
		if err := db.exec(ctx, tx, "copying rows", copySQL); err != nil {
			return err
		}
	}
	if err := db.exec(ctx, tx, "dropping old table", fmt.Sprintf("DROP TABLE %q", d.name)); err != nil {
		return err
	}
	return db.exec(ctx, tx, "renaming rebuilt table", fmt.Sprintf("ALTER TABLE %q RENAME TO %q", tmp, d.name))
}

func (db *Database) migrateObjects(ctx context.Context, tx *sql.Tx, typ objectType) error {
	diffs, err := db.diff(ctx, tx, typ)
	if err != nil {
		return err
	}
	keyword := strings.ToUpper(string(typ))
	for _, d := range diffs {
		if d.liveSQL != "" {
			if err = db.exec(ctx, tx, "dropping "+string(typ), fmt.Sprintf("DROP %s %q", keyword, d.name)); err != nil {
				return err
			}
		}
		if d.targetSQL != "" {
			if err = db.exec(ctx, tx, "creating "+string(typ), d.targetSQL); err != nil {
				return err
			}
		}
	}
	return nil
}
