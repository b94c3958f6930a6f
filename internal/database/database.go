package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/achille-roussel/sqlrange"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib" // database/sql compatible driver for pgx
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
	_ "modernc.org/sqlite"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/progress"
)

const (
	sqlite = iota
	postgres
	mysql
)

const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

const (
	kindFile  = "file"
	kindGroup = "group"
)

// Database implements the catalog persistence. It will hide any differences between the varying SQL databases from the rest of the codebase.
type Database struct {
	db     *sql.DB
	config *config.Database
	kind   int
	log    *logging.Logger
}

var _ catalog.Store = (*Database)(nil)

func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Dialect() (string, error) {
	switch d.kind {
	case sqlite:
		return "sqlite", nil
	case postgres:
		return "postgresql", nil
	case mysql:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unknown kind: %d", d.kind)
	}
}

func (d *Database) WithConfig(config *config.Database) *Database {
	d.config = config
	return d
}

func (d *Database) WithLogger(log *logging.Logger) *Database {
	d.log = log
	return d
}

func (d *Database) InitDB(ctx context.Context) error {
	if d.log == nil {
		d.log = logging.NewNop()
	}

	var c *config.SQLDatabase
	if d.config != nil {
		c = d.config.SQL
	}

	switch {
	case c == nil:
		// Default to memory-only SQLite if no config is provided.
		fallthrough
	case c.Driver == "sqlite3" || c.Driver == "sqlite":
		dsn := SQLiteMemoryOnlyDSN
		if c != nil && c.DSN != "" {
			dsn = os.ExpandEnv(c.DSN)
		}
		d.kind = sqlite

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return err
		}
		if d.logStatements() {
			drv := db.Driver()
			_ = db.Close()
			db = d.openLogged(dsn, drv)
		}
		d.db = db

		// The pragma is per connection.
		d.db.SetMaxOpenConns(1)
		if _, err := d.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}

	case c.Driver == "postgres" || c.Driver == "pgx":
		dsn := os.ExpandEnv(c.DSN)
		d.kind = postgres
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return err
		}
		if d.logStatements() {
			d.db = d.openLogged(dsn, stdlib.GetDefaultDriver())
		} else {
			d.db = sql.OpenDB(stdlib.GetConnector(*cfg))
		}

	case c.Driver == "mysql":
		dsn := os.ExpandEnv(c.DSN)
		d.kind = mysql
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return err
		}
		if d.logStatements() {
			d.db = d.openLogged(dsn, mysqldriver.MySQLDriver{})
		} else {
			conn, err := mysqldriver.NewConnector(cfg)
			if err != nil {
				return err
			}
			d.db = sql.OpenDB(conn)
		}

	default:
		return errors.New("unsupported database connection type")
	}

	return nil
}

func (d *Database) logStatements() bool {
	return d.config != nil && d.config.SQL != nil && d.config.SQL.LogStatements
}

func (d *Database) openLogged(dsn string, drv driver.Driver) *sql.DB {
	return sqldblogger.OpenDriver(dsn, drv, zerologadapter.New(d.log.Zerolog()),
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
		sqldblogger.WithSQLQueryAsMessage(true),
	)
}

func (d *Database) CloseDB() {
	d.db.Close()
}

type resourceRow struct {
	ID            int64  `sql:"id"`
	ResourceID    string `sql:"resource_id"`
	Kind          string `sql:"kind"`
	Label         string `sql:"label"`
	MimeType      string `sql:"mime_type"`
	Removed       int64  `sql:"removed"`
	Tags          string `sql:"tags"`
	Episodes      string `sql:"episodes"`
	Files         string `sql:"files"`
	Path          string `sql:"path"`
	FileName      string `sql:"file_name"`
	XXHash        string `sql:"xxhash"`
	MD5           string `sql:"md5"`
	Size          int64  `sql:"size"`
	BundleStage   string `sql:"bundle_stage"`
	BundleMembers string `sql:"bundle_members"`
}

type locatorRow struct {
	ResourceID string `sql:"resource_id"`
	StageID    string `sql:"stage_id"`
	Locator    string `sql:"locator"`
}

type operationRow struct {
	ResourceID  string `sql:"resource_id"`
	StageID     string `sql:"stage_id"`
	Fingerprint string `sql:"fingerprint"`
}

type buildRow struct {
	ResourceID string `sql:"resource_id"`
	BuildID    string `sql:"build_id"`
}

type episodeRow struct {
	EpisodeID string `sql:"episode_id"`
}

// LoadSet reads the whole catalog into memory, in insertion order.
func (d *Database) LoadSet(ctx context.Context, bar *progress.Bar) (*catalog.Set, error) {
	set := catalog.NewSet()
	err := tx1(ctx, d, func(tx *sql.Tx) error {
		files := make(map[string]*catalog.FileResource)

		for row, err := range sqlrange.QueryContext[resourceRow](ctx, tx, `SELECT
	id,
	resource_id,
	kind,
	COALESCE(label, '') AS label,
	COALESCE(mime_type, '') AS mime_type,
	removed,
	COALESCE(tags, '') AS tags,
	COALESCE(episodes, '') AS episodes,
	COALESCE(files, '') AS files,
	COALESCE(path, '') AS path,
	COALESCE(file_name, '') AS file_name,
	COALESCE(xxhash, '') AS xxhash,
	COALESCE(md5, '') AS md5,
	COALESCE(size, 0) AS size,
	COALESCE(bundle_stage, '') AS bundle_stage,
	COALESCE(bundle_members, '') AS bundle_members
FROM resources
ORDER BY id`) {
			if err != nil {
				return err
			}
			r, err := row.record()
			if err != nil {
				return fmt.Errorf("resource %q: %w", row.ResourceID, err)
			}
			if f, ok := r.(*catalog.FileResource); ok {
				files[f.ID] = f
			}
			set.Add(r)
			bar.Add(1)
		}

		for row, err := range sqlrange.QueryContext[locatorRow](ctx, tx, `SELECT r.resource_id AS resource_id, l.stage_id AS stage_id, l.locator AS locator
FROM resource_locators l JOIN resources r ON r.id = l.resource_id
ORDER BY r.id, l.stage_id`) {
			if err != nil {
				return err
			}
			if f, ok := files[row.ResourceID]; ok {
				f.SetLocator(row.StageID, row.Locator)
			}
		}

		for row, err := range sqlrange.QueryContext[operationRow](ctx, tx, `SELECT r.resource_id AS resource_id, o.stage_id AS stage_id, o.fingerprint AS fingerprint
FROM process_operations o JOIN resources r ON r.id = o.resource_id
ORDER BY r.id, o.seq`) {
			if err != nil {
				return err
			}
			if f, ok := files[row.ResourceID]; ok {
				process(f).Operations = append(process(f).Operations, catalog.Operation{StageID: row.StageID, Fingerprint: row.Fingerprint})
			}
		}

		for row, err := range sqlrange.QueryContext[buildRow](ctx, tx, `SELECT r.resource_id AS resource_id, b.build_id AS build_id
FROM process_builds b JOIN resources r ON r.id = b.resource_id
ORDER BY r.id, b.build_id`) {
			if err != nil {
				return err
			}
			if f, ok := files[row.ResourceID]; ok {
				process(f).MediaBundleIDs = append(process(f).MediaBundleIDs, row.BuildID)
			}
		}

		for row, err := range sqlrange.QueryContext[episodeRow](ctx, tx, `SELECT episode_id FROM episodes ORDER BY episode_id`) {
			if err != nil {
				return err
			}
			set.Episodes = append(set.Episodes, row.EpisodeID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Debugf("loaded %d resources", set.Len())
	return set, nil
}

func process(f *catalog.FileResource) *catalog.ProcessRecord {
	if f.Process == nil {
		f.Process = &catalog.ProcessRecord{}
	}
	return f.Process
}

func (row resourceRow) record() (catalog.Record, error) {
	var tags, episodes []string
	if err := unmarshalList(row.Tags, &tags); err != nil {
		return nil, err
	}
	if err := unmarshalList(row.Episodes, &episodes); err != nil {
		return nil, err
	}

	switch row.Kind {
	case kindGroup:
		var files []string
		if err := unmarshalList(row.Files, &files); err != nil {
			return nil, err
		}
		return &catalog.GroupResource{
			ID:       row.ResourceID,
			Label:    row.Label,
			Files:    files,
			Tags:     tags,
			Episodes: episodes,
			Removed:  row.Removed != 0,
		}, nil

	case kindFile:
		f := &catalog.FileResource{
			ID:       row.ResourceID,
			Label:    row.Label,
			MimeType: row.MimeType,
			Tags:     tags,
			Episodes: episodes,
			Removed:  row.Removed != 0,
			Path:     row.Path,
			FileName: row.FileName,
			XXHash:   row.XXHash,
			MD5:      row.MD5,
			Size:     row.Size,
		}
		if row.BundleStage != "" {
			var members []string
			if err := unmarshalList(row.BundleMembers, &members); err != nil {
				return nil, err
			}
			f.Bundle = &catalog.BundleInfo{StageID: row.BundleStage, Members: members}
		}
		return f, nil
	}

	return nil, fmt.Errorf("unknown resource kind %q", row.Kind)
}

func unmarshalList(s string, v *[]string) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func marshalList(l []string) (any, error) {
	if len(l) == 0 {
		return nil, nil
	}
	bs, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(bs), nil
}

var resourceColumns = []string{"resource_id", "kind", "label", "mime_type", "removed", "tags", "episodes", "files", "path", "file_name", "xxhash", "md5", "size", "bundle_stage", "bundle_members"}

func resourceValues(r catalog.Record) ([]any, error) {
	var (
		kind, label, mimeType, path, fileName, xxhash, md5, bundleStage string
		tags, episodes, files, members                                 []string
		removed                                                        bool
		size                                                           int64
	)

	switch r := r.(type) {
	case *catalog.FileResource:
		kind = kindFile
		label, mimeType, tags, episodes, removed = r.Label, r.MimeType, r.Tags, r.Episodes, r.Removed
		path, fileName, xxhash, md5, size = r.Path, r.FileName, r.XXHash, r.MD5, r.Size
		if r.Bundle != nil {
			bundleStage, members = r.Bundle.StageID, r.Bundle.Members
		}
	case *catalog.GroupResource:
		kind = kindGroup
		label, tags, episodes, files, removed = r.Label, r.Tags, r.Episodes, r.Files, r.Removed
	default:
		return nil, fmt.Errorf("unsupported record type %T", r)
	}

	values := []any{r.RecordID(), kind, nullable(label), nullable(mimeType), boolInt(removed)}
	for _, l := range [][]string{tags, episodes, files} {
		v, err := marshalList(l)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	values = append(values, nullable(path), nullable(fileName), nullable(xxhash), nullable(md5), size, nullable(bundleStage))

	v, err := marshalList(members)
	if err != nil {
		return nil, err
	}
	return append(values, v), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertResource creates or updates a resource, keyed by its id. Locators,
// provenance and builds of an existing resource are left untouched.
func (d *Database) UpsertResource(ctx context.Context, r catalog.Record) error {
	values, err := resourceValues(r)
	if err != nil {
		return err
	}
	return tx1(ctx, d, func(tx *sql.Tx) error {
		return d.upsert(ctx, tx, "resources", resourceColumns, []string{"resource_id"}, values...)
	})
}

// InsertDescriptor stores a new bundle descriptor along with its provenance
// and requesting builds. A descriptor id that already exists yields
// ErrDataConflict.
func (d *Database) InsertDescriptor(ctx context.Context, desc *catalog.FileResource) error {
	values, err := resourceValues(desc)
	if err != nil {
		return err
	}

	return tx1(ctx, d, func(tx *sql.Tx) error {
		if _, err := d.lookupID(ctx, tx, desc.ID); err == nil {
			return fmt.Errorf("%w: resource %q already exists", ErrDataConflict, desc.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := d.insert(ctx, tx, "resources", resourceColumns, values...); err != nil {
			return err
		}

		id, err := d.lookupID(ctx, tx, desc.ID)
		if err != nil {
			return err
		}

		for _, loc := range sortedLocators(desc.URL) {
			if err := d.upsert(ctx, tx, "resource_locators", []string{"resource_id", "stage_id", "locator"}, []string{"resource_id", "stage_id"}, id, loc[0], loc[1]); err != nil {
				return err
			}
		}

		if desc.Process == nil {
			return nil
		}

		for i, op := range desc.Process.Operations {
			if err := d.insert(ctx, tx, "process_operations", []string{"resource_id", "seq", "stage_id", "fingerprint"}, id, i, op.StageID, op.Fingerprint); err != nil {
				return err
			}
		}

		for _, b := range desc.Process.MediaBundleIDs {
			if err := d.insertIgnore(ctx, tx, "process_builds", []string{"resource_id", "build_id"}, id, b); err != nil {
				return err
			}
		}

		return nil
	})
}

func sortedLocators(m map[string]string) [][2]string {
	l := make([][2]string, 0, len(m))
	for k, v := range m {
		l = append(l, [2]string{k, v})
	}
	slices.SortFunc(l, func(a, b [2]string) int { return strings.Compare(a[0], b[0]) })
	return l
}

// AddBuild records buildID as a requester of the resource. Adding the same
// build twice is a no-op.
func (d *Database) AddBuild(ctx context.Context, resourceID, buildID string) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		id, err := d.lookupID(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		return d.insertIgnore(ctx, tx, "process_builds", []string{"resource_id", "build_id"}, id, buildID)
	})
}

// SetLocator stores the locator of a resource for a stage, replacing any
// previous one for the same stage.
func (d *Database) SetLocator(ctx context.Context, resourceID, stageID, locator string) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		id, err := d.lookupID(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		return d.upsert(ctx, tx, "resource_locators", []string{"resource_id", "stage_id", "locator"}, []string{"resource_id", "stage_id"}, id, stageID, locator)
	})
}

// UpsertEpisode registers a known episode. Once any episode is registered,
// group episode selectors are validated against the registered ids.
func (d *Database) UpsertEpisode(ctx context.Context, episodeID, label string) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		return d.upsert(ctx, tx, "episodes", []string{"episode_id", "label"}, []string{"episode_id"}, episodeID, nullable(label))
	})
}

func (d *Database) lookupID(ctx context.Context, tx *sql.Tx, resourceID string) (int64, error) {
	var id int64
	query := fmt.Sprintf("SELECT id FROM resources WHERE resource_id = %s", d.arg(0))
	err := tx.QueryRowContext(ctx, query, resourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: resource %q", ErrNotFound, resourceID)
	}
	return id, err
}

func (d *Database) insert(ctx context.Context, tx *sql.Tx, table string, columns []string, values ...any) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(columns, ", "), strings.Join(d.args(len(columns)), ", "))
	_, err := tx.ExecContext(ctx, query, values...)
	return err
}

func (d *Database) insertIgnore(ctx context.Context, tx *sql.Tx, table string, columns []string, values ...any) error {
	var query string
	cols, vals := strings.Join(columns, ", "), strings.Join(d.args(len(columns)), ", ")
	switch d.kind {
	case sqlite:
		query = fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) VALUES (%s)`, table, cols, vals)
	case postgres:
		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING`, table, cols, vals)
	case mysql:
		query = fmt.Sprintf(`INSERT IGNORE INTO %s (%s) VALUES (%s)`, table, cols, vals)
	}
	_, err := tx.ExecContext(ctx, query, values...)
	return err
}

// upsert never deletes the existing row, so autoincrement ids and rows
// referencing them survive an update.
func (d *Database) upsert(ctx context.Context, tx *sql.Tx, table string, columns []string, primaryKey []string, values ...any) error {
	var query string
	switch d.kind {
	case sqlite, postgres:
		set := make([]string, 0, len(columns))
		for i := range columns {
			if !slices.Contains(primaryKey, columns[i]) { // do not update primary key columns
				set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", columns[i], columns[i]))
			}
		}

		values := d.args(len(columns))

		if len(set) == 0 {
			query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`, table, strings.Join(columns, ", "),
				strings.Join(values, ", "),
				strings.Join(primaryKey, ", "))
		} else {
			query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`, table, strings.Join(columns, ", "),
				strings.Join(values, ", "),
				strings.Join(primaryKey, ", "),
				strings.Join(set, ", "))
		}

	case mysql:
		set := make([]string, 0, len(columns))
		for i := range columns {
			if !slices.Contains(primaryKey, columns[i]) {
				set = append(set, fmt.Sprintf("%s = VALUES(%s)", columns[i], columns[i]))
			}
		}
		if len(set) == 0 {
			set = append(set, fmt.Sprintf("%s = %s", primaryKey[0], primaryKey[0]))
		}

		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s`, table, strings.Join(columns, ", "),
			strings.Join(d.args(len(columns)), ", "),
			strings.Join(set, ", "))
	}

	_, err := tx.ExecContext(ctx, query, values...)
	return err
}

func (d *Database) arg(i int) string {
	if d.kind == postgres {
		return "$" + strconv.Itoa(i+1)
	}
	return "?"
}

func (d *Database) args(n int) []string {
	args := make([]string, n)
	for i := range n {
		args[i] = d.arg(i)
	}

	return args
}

func tx1(ctx context.Context, db *Database, f func(*sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}
