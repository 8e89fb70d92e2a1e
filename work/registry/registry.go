// Package registry implements the identity registry (C6): a persistent
// (input, provider-id) <-> (virtual_id, chno, last_seen_run) store that
// survives restarts and retains entries for one generation after they
// disappear from a provider's snapshot, so already-open streams keep
// resolving during the grace window spec §3 describes.
//
// Grounded on the teacher's work/database.DB (sql.DB wrapper, WAL pragmas,
// embedded numbered migration files run once at Open) but swapped onto the
// ncruces/go-sqlite3 driver the teacher's own go.mod declares — the
// teacher's work/database package imports mattn/go-sqlite3 instead, a
// mismatch this package corrects (see DESIGN.md).
package registry

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Registry is the persistent identity store for one proxy instance.
type Registry struct {
	db  *sql.DB
	log *logger.Logger
	mu  sync.Mutex // serializes the read-then-insert on Resolve's miss path
}

// Open opens (creating if needed) the sqlite-backed registry at path and
// runs any pending migrations.
func Open(path string, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "registry")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.IOFailed, "create registry directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailed, "open registry database", err)
	}
	db.SetMaxOpenConns(1) // single-writer WAL usage; C6 is not a hot read path

	r := &Registry{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("{registry - Open} opened %s", path)
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return apperr.Wrap(apperr.IOFailed, "create migrations table", err)
	}
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "read embedded migrations", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for i, name := range names {
		version := i + 1
		var applied int
		row := r.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version)
		if err := row.Scan(&applied); err != nil {
			return apperr.Wrap(apperr.IOFailed, "check migration state", err)
		}
		if applied > 0 {
			continue
		}
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "read migration "+name, err)
		}
		tx, err := r.db.Begin()
		if err != nil {
			return apperr.Wrap(apperr.IOFailed, "begin migration tx", err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.IOFailed, "apply migration "+name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.IOFailed, "record migration "+name, err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.IOFailed, "commit migration "+name, err)
		}
	}
	return nil
}

// Resolve returns the stable virtual id for (input, providerID), minting
// and persisting one via identity.VirtualID on first sight (spec §3
// invariant 1 / §8 property 1). run is the pipeline generation number
// performing this lookup, recorded as the entry's last_seen_run so a
// later Prune can apply one-generation retention.
func (r *Registry) Resolve(input, providerID string, run int64) (uint64, error) {
	var vid int64
	row := r.db.QueryRow(`SELECT virtual_id FROM identities WHERE input = ? AND provider_id = ?`, input, providerID)
	err := row.Scan(&vid)
	if err == nil {
		_, execErr := r.db.Exec(`UPDATE identities SET last_seen_run = ? WHERE input = ? AND provider_id = ?`, run, input, providerID)
		if execErr != nil {
			return 0, apperr.Wrap(apperr.IOFailed, "touch identity", execErr)
		}
		return uint64(vid), nil
	}
	if err != sql.ErrNoRows {
		return 0, apperr.Wrap(apperr.IOFailed, "query identity", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the lock: another goroutine may have inserted this
	// (input, providerID) between our SELECT and acquiring mu.
	row = r.db.QueryRow(`SELECT virtual_id FROM identities WHERE input = ? AND provider_id = ?`, input, providerID)
	if err := row.Scan(&vid); err == nil {
		r.db.Exec(`UPDATE identities SET last_seen_run = ? WHERE input = ? AND provider_id = ?`, run, input, providerID)
		return uint64(vid), nil
	}

	newVID := identity.VirtualID(input, providerID)
	_, err = r.db.Exec(`INSERT INTO identities(input, provider_id, virtual_id, last_seen_run) VALUES (?, ?, ?, ?)`,
		input, providerID, int64(newVID), run)
	if err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "insert identity", err)
	}
	return newVID, nil
}

// SetChno persists a deterministically-assigned channel number for an
// already-resolved identity.
func (r *Registry) SetChno(input, providerID string, chno int) error {
	_, err := r.db.Exec(`UPDATE identities SET chno = ? WHERE input = ? AND provider_id = ?`, chno, input, providerID)
	if err != nil {
		return apperr.Wrap(apperr.IOFailed, "set chno", err)
	}
	return nil
}

// Chno returns the persisted channel number for (input, providerID), or 0
// if unassigned/unknown.
func (r *Registry) Chno(input, providerID string) int {
	var chno int
	row := r.db.QueryRow(`SELECT chno FROM identities WHERE input = ? AND provider_id = ?`, input, providerID)
	if err := row.Scan(&chno); err != nil {
		return 0
	}
	return chno
}

// Prune removes identities not seen in run or run-1 (spec §3: "old IDs are
// retained for one run to allow grace decommission of still-open streams").
// Call once per target after a pipeline run completes.
func (r *Registry) Prune(run int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM identities WHERE last_seen_run < ?`, run-1)
	if err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "prune identities", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info("{registry - Prune} removed %d stale identities before run %d", n, run)
	}
	return n, nil
}

// NextRun returns the next generation number for target, persisting the
// increment.
func (r *Registry) NextRun(target string) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "begin run tx", err)
	}
	defer tx.Rollback()

	var gen int64
	row := tx.QueryRow(`SELECT generation FROM runs WHERE target = ?`, target)
	err = row.Scan(&gen)
	if err == sql.ErrNoRows {
		gen = 0
		if _, err := tx.Exec(`INSERT INTO runs(target, generation) VALUES (?, ?)`, target, gen); err != nil {
			return 0, apperr.Wrap(apperr.IOFailed, "insert run", err)
		}
	} else if err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "query run", err)
	} else {
		gen++
		if _, err := tx.Exec(`UPDATE runs SET generation = ? WHERE target = ?`, gen, target); err != nil {
			return 0, apperr.Wrap(apperr.IOFailed, "update run", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "commit run tx", err)
	}
	return gen, nil
}

// CounterValue and SetCounterValue persist C4 mapper counter state across
// pipeline runs, scoped per (target, counter name) per spec §4.4.
func (r *Registry) CounterValue(target, name string) (int64, bool) {
	var v int64
	row := r.db.QueryRow(`SELECT value FROM counters WHERE target = ? AND counter_name = ?`, target, name)
	if err := row.Scan(&v); err != nil {
		return 0, false
	}
	return v, true
}

func (r *Registry) SetCounterValue(target, name string, v int64) error {
	_, err := r.db.Exec(`INSERT INTO counters(target, counter_name, value) VALUES (?, ?, ?)
		ON CONFLICT(target, counter_name) DO UPDATE SET value = excluded.value`, target, name, v)
	if err != nil {
		return apperr.Wrap(apperr.IOFailed, "set counter value", err)
	}
	return nil
}
