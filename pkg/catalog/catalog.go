// Package catalog implements the Local Catalog (spec.md C2): the on-disk
// record of installed packages, backed by a single-file
// `modernc.org/sqlite` database matching the `linglong.db` layout in
// spec.md §6.3.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/pkg/ref"
)

// schemaVersion is the embedded code's schema version (spec.md §4.2:
// "a table-version record allows forward-compatible schema evolution").
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS descriptor (
	id          TEXT NOT NULL,
	version     TEXT NOT NULL,
	arch        TEXT NOT NULL,
	channel     TEXT NOT NULL,
	module      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	runtime     TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	repo_name   TEXT NOT NULL DEFAULT '',
	uab_url     TEXT NOT NULL DEFAULT '',
	install_user TEXT NOT NULL,
	install_type TEXT NOT NULL,
	PRIMARY KEY (id, version, arch, channel, module)
);
`

// Kind is a Package Descriptor's kind (spec.md §3.2).
type Kind string

const (
	KindApp     Kind = "app"
	KindRuntime Kind = "runtime"
)

// InstallType records who requested the install (spec.md §3.3).
type InstallType string

const (
	InstallTypeUser   InstallType = "user"
	InstallTypeSystem InstallType = "system"
)

// Descriptor is a Package Descriptor (spec.md §3.2), as stored by the
// catalog.
type Descriptor struct {
	Reference   ref.Reference
	Kind        Kind
	Runtime     ref.Reference // zero value: no runtime dependency
	Name        string
	Description string
	Size        int64
	RepoName    string
	UABURL      string

	InstallUser string
	InstallType InstallType
}

// Catalog is the Local Catalog (spec.md C2). The zero value is not
// usable; construct with [Open].
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog database at path, matching
// and recording [schemaVersion].
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &linglong.Error{Op: "catalog.Open", Kind: linglong.ErrInternal, Inner: err}
	}
	db.SetMaxOpenConns(1) // spec.md §5: catalog is single-writer through a mutex.

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &linglong.Error{Op: "catalog.Open", Kind: linglong.ErrInternal, Message: "applying schema", Inner: err}
	}

	c := &Catalog{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate(ctx context.Context) error {
	var stored int
	err := c.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = c.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	case err != nil:
		return &linglong.Error{Op: "catalog.migrate", Kind: linglong.ErrInternal, Inner: err}
	case stored < schemaVersion:
		slog.InfoContext(ctx, "catalog schema upgrade", "from", stored, "to", schemaVersion)
		_, err = c.db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, schemaVersion)
		return err
	case stored > schemaVersion:
		return &linglong.Error{Op: "catalog.migrate", Kind: linglong.ErrInternal,
			Message: fmt.Sprintf("catalog schema version %d is newer than this binary's %d", stored, schemaVersion)}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// AlreadyInstalledError reports a unique-key collision on [Catalog.Insert].
type AlreadyInstalledError struct {
	Reference ref.Reference
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("%s already installed", e.Reference)
}

func (e *AlreadyInstalledError) Is(target error) bool { return target == linglong.ErrConflict }

// Insert records d as installed by user. It fails with
// [*AlreadyInstalledError] on a `(id, version, arch, channel, module)`
// collision (spec.md §4.2).
func (c *Catalog) Insert(ctx context.Context, d Descriptor, user string) error {
	r := d.Reference
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO descriptor
			(id, version, arch, channel, module, kind, runtime, name, description, size, repo_name, uab_url, install_user, install_type)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Version.String(), string(r.Arch), r.Channel, string(r.Module),
		string(d.Kind), d.Runtime.String(), d.Name, d.Description, d.Size, d.RepoName, d.UABURL,
		user, string(d.InstallType),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &AlreadyInstalledError{Reference: r}
		}
		return &linglong.Error{Op: "catalog.Insert", Kind: linglong.ErrInternal, Inner: err}
	}
	return nil
}

// isUniqueViolation reports whether err came from a SQLite unique
// constraint, without pulling in the sqlite-specific error type
// (modernc.org/sqlite wraps it in a plain error whose text carries the
// SQLite result code).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") || strings.Contains(s, "constraint failed: UNIQUE")
}

// Filter narrows a [Catalog.List] or [Catalog.Remove] query. Zero-valued
// fields are omitted from the match (spec.md §4.2: "omitting a field
// widens the match").
type Filter struct {
	ID      string
	Version string
	Arch    ref.Arch
	Channel string
	Module  ref.Module
	User    string
}

// Remove deletes rows matching f, scoped additionally to user unless
// privileged is true (spec.md §4.5.2 permission rule). It returns the
// count removed.
func (c *Catalog) Remove(ctx context.Context, f Filter, user string, privileged bool) (int64, error) {
	where, args := f.whereClause()
	if !privileged {
		where += " AND install_user = ?"
		args = append(args, user)
	}
	res, err := c.db.ExecContext(ctx, "DELETE FROM descriptor WHERE "+where, args...)
	if err != nil {
		return 0, &linglong.Error{Op: "catalog.Remove", Kind: linglong.ErrInternal, Inner: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &linglong.Error{Op: "catalog.Remove", Kind: linglong.ErrInternal, Inner: err}
	}
	return n, nil
}

// IsInstalled reports whether a descriptor matching f exists. A
// "runtime"-kind id is considered user-independent (spec.md §4.2); other
// kinds restrict to user unless privileged.
func (c *Catalog) IsInstalled(ctx context.Context, f Filter, user string, privileged bool) (bool, error) {
	where, args := f.whereClause()
	if !privileged {
		where += " AND (kind = ? OR install_user = ?)"
		args = append(args, string(KindRuntime), user)
	}
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM descriptor WHERE "+where, args...).Scan(&n)
	if err != nil {
		return false, &linglong.Error{Op: "catalog.IsInstalled", Kind: linglong.ErrInternal, Inner: err}
	}
	return n > 0, nil
}

// List returns descriptors matching f, ordered by (id, version asc)
// (spec.md §4.2). Version ordering here is the storage order (lexical on
// the text column); callers needing numeric order should re-sort with
// [ref.Compare], as [Catalog.LatestInstalled] does.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Descriptor, error) {
	where, args := f.whereClause()
	rows, err := c.db.QueryContext(ctx, "SELECT "+selectCols+" FROM descriptor WHERE "+where+" ORDER BY id, version", args...)
	if err != nil {
		return nil, &linglong.Error{Op: "catalog.List", Kind: linglong.ErrInternal, Inner: err}
	}
	defer rows.Close()
	return scanDescriptors(rows)
}

// LatestInstalled returns the descriptor for id and arch with the
// greatest numeric version under versionPrefix, re-sorting candidates with C1's comparator
// because SQL's ordering is lexicographic (spec.md §4.2).
func (c *Catalog) LatestInstalled(ctx context.Context, id, versionPrefix string, arch ref.Arch) (Descriptor, bool, error) {
	f := Filter{ID: id, Arch: arch}
	all, err := c.List(ctx, f)
	if err != nil {
		return Descriptor{}, false, err
	}
	refs := make([]ref.Reference, len(all))
	for i, d := range all {
		refs[i] = d.Reference
	}
	best, ok := ref.LatestOf(id, versionPrefix, refs)
	if !ok {
		return Descriptor{}, false, nil
	}
	for _, d := range all {
		if d.Reference.Equal(best) {
			return d, true, nil
		}
	}
	return Descriptor{}, false, nil
}

const selectCols = "id, version, arch, channel, module, kind, runtime, name, description, size, repo_name, uab_url, install_user, install_type"

func scanDescriptors(rows *sql.Rows) ([]Descriptor, error) {
	var out []Descriptor
	for rows.Next() {
		var (
			d                      Descriptor
			version, arch, channel string
			module, kind, runtime  string
		)
		if err := rows.Scan(&d.Reference.ID, &version, &arch, &channel, &module, &kind, &runtime,
			&d.Name, &d.Description, &d.Size, &d.RepoName, &d.UABURL, &d.InstallUser, &d.InstallType); err != nil {
			return nil, &linglong.Error{Op: "catalog.scan", Kind: linglong.ErrInternal, Inner: err}
		}
		v, err := ref.ParseVersion(version)
		if err != nil {
			return nil, &linglong.Error{Op: "catalog.scan", Kind: linglong.ErrInternal, Inner: err}
		}
		d.Reference.Version = v
		d.Reference.Arch = ref.Arch(arch)
		d.Reference.Channel = channel
		d.Reference.Module = ref.Module(module)
		d.Kind = Kind(kind)
		if runtime != "" {
			rr, err := ref.Parse(runtime)
			if err == nil {
				d.Runtime = rr
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (f Filter) whereClause() (string, []any) {
	where := "1=1"
	var args []any
	add := func(col, val string) {
		if val != "" {
			where += fmt.Sprintf(" AND %s = ?", col)
			args = append(args, val)
		}
	}
	add("id", f.ID)
	add("version", f.Version)
	add("arch", string(f.Arch))
	add("channel", f.Channel)
	add("module", string(f.Module))
	add("install_user", f.User)
	return where, args
}
