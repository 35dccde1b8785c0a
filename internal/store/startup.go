package store

import (
	"fmt"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
)

// CheckResult is one startup check's outcome.
type CheckResult struct {
	Name   string
	OK     bool
	Fatal  bool
	Detail string
}

// StartupChecks runs connectivity, schema, read/write probe, and integrity
// checks in order. Fatal check failures are returned as the error; warnings
// are included in the returned slice regardless.
func (db *DB) StartupChecks() ([]CheckResult, error) {
	var results []CheckResult

	// 1. Connectivity
	if err := db.conn.Ping(); err != nil {
		r := CheckResult{Name: "connectivity", OK: false, Fatal: true, Detail: err.Error()}
		return append(results, r), errs.Wrap(err, errs.Database, "startup_connectivity")
	}
	results = append(results, CheckResult{Name: "connectivity", OK: true})

	// 2. Schema: essential columns are fatal, optional ones informational.
	schemaResult, err := db.checkSchema()
	results = append(results, schemaResult)
	if err != nil {
		return results, err
	}

	// 3. Read/write probe; fatal on failure.
	probeResult, err := db.readWriteProbe()
	results = append(results, probeResult)
	if err != nil {
		return results, err
	}

	// 4. Integrity; warning only.
	if err := db.IntegrityCheck(); err != nil {
		results = append(results, CheckResult{Name: "integrity", OK: false, Fatal: false, Detail: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "integrity", OK: true})
	}

	return results, nil
}

func (db *DB) checkSchema() (CheckResult, error) {
	if !db.tableExists("memories") {
		err := errs.New(errs.Database, "missing_table", "memories table is missing", "run the server once to create the schema")
		return CheckResult{Name: "schema", OK: false, Fatal: true, Detail: err.Error()}, err
	}
	for _, col := range []string{"id", "content"} {
		if !db.hasColumn("memories", col) {
			err := errs.New(errs.Database, "missing_column",
				fmt.Sprintf("memories.%s column is missing", col),
				"the schema is incompatible; restore from backup or recreate the database")
			return CheckResult{Name: "schema", OK: false, Fatal: true, Detail: err.Error()}, err
		}
	}

	detail := "ok"
	if !db.hasColumn("memories", "metadata") || !db.hasColumn("memories", "created_at") {
		detail = "optional columns (metadata, created_at) partially missing; some features degrade"
	}
	return CheckResult{Name: "schema", OK: true, Detail: detail}, nil
}

func (db *DB) tableExists(name string) bool {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&n)
	return err == nil && n > 0
}

const startupProbeMarker = "__durandal_startup_probe__"

func (db *DB) readWriteProbe() (CheckResult, error) {
	db.mu.Lock()
	_, err := db.conn.Exec(
		`INSERT INTO memories (id, content, metadata) VALUES (?, ?, '{}')`,
		startupProbeMarker, startupProbeMarker,
	)
	db.mu.Unlock()
	if err != nil {
		e := errs.Wrap(err, errs.Database, "startup_probe_write")
		return CheckResult{Name: "read_write_probe", OK: false, Fatal: true, Detail: e.Error()}, e
	}

	var readBack string
	err = db.conn.QueryRow(`SELECT content FROM memories WHERE id = ?`, startupProbeMarker).Scan(&readBack)
	if err != nil || readBack != startupProbeMarker {
		e := errs.Wrap(err, errs.Database, "startup_probe_read")
		return CheckResult{Name: "read_write_probe", OK: false, Fatal: true, Detail: "probe row could not be read back"}, e
	}

	db.mu.Lock()
	_, err = db.conn.Exec(`DELETE FROM memories WHERE id = ?`, startupProbeMarker)
	db.mu.Unlock()
	if err != nil {
		e := errs.Wrap(err, errs.Database, "startup_probe_cleanup")
		return CheckResult{Name: "read_write_probe", OK: false, Fatal: true, Detail: e.Error()}, e
	}

	return CheckResult{Name: "read_write_probe", OK: true}, nil
}
