// Package base implements the coordinator-side reliability layer: an
// outbound command queue with per-node serialization and bounded
// retries, ACK/NACK correlation (explicit and piggybacked on telemetry),
// node enrollment, and liveness tracking.
package base

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CommandState is the lifecycle state of a queued command entry.
type CommandState string

const (
	StatePending  CommandState = "pending"
	StateInFlight CommandState = "in_flight"
	StateDone     CommandState = "done"
	StateFailed   CommandState = "failed"
)

// Disposition records how a completed command resolved.
type Disposition string

const (
	DispositionNone    Disposition = ""
	DispositionAcked   Disposition = "acked"
	DispositionNacked  Disposition = "nacked"
	DispositionTimeout Disposition = "timeout"
)

// CommandEntry is a command-queue entry. Handle is the identifier
// returned to callers of the abstract submit()/status() surface; ID is
// the row's internal primary key.
type CommandEntry struct {
	ID                int64
	Handle            string
	TargetNodeID      uint8
	CommandType       uint8
	Payload           []byte
	SequenceNumber    uint8
	AttemptsRemaining int
	NextAttemptAt     time.Time
	State             CommandState
	Disposition       Disposition
	CreatedAt         time.Time
}

// Node is a registered node's liveness and enrollment record.
type Node struct {
	NodeID       uint8
	FirstSeen    time.Time
	LastSeen     time.Time
	LastTimeSync time.Time
}

// DB wraps the SQLite-backed command queue and node registry, using the
// same schema-migration and WAL-mode conventions as a time-series store,
// repurposed here for command durability and liveness tracking.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("base: open database: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("base: migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id INTEGER PRIMARY KEY,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		last_time_sync DATETIME
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		handle TEXT NOT NULL UNIQUE,
		target_node_id INTEGER NOT NULL,
		command_type INTEGER NOT NULL,
		payload BLOB,
		sequence_number INTEGER NOT NULL,
		attempts_remaining INTEGER NOT NULL,
		next_attempt_at DATETIME NOT NULL,
		state TEXT NOT NULL,
		disposition TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commands_state ON commands(state);
	CREATE INDEX IF NOT EXISTS idx_commands_target ON commands(target_node_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_commands_handle ON commands(handle);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// commandColumns lists the column set shared by every SELECT below, kept
// in one place so adding a field only requires updating scanCommandGeneric.
const commandColumns = "id, handle, target_node_id, command_type, payload, sequence_number, attempts_remaining, next_attempt_at, state, disposition, created_at"

// Enqueue inserts a new pending command entry. e.Handle must already be
// set by the caller (the base-station command-handle identifier, a
// UUID).
func (db *DB) Enqueue(e *CommandEntry) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO commands (handle, target_node_id, command_type, payload, sequence_number, attempts_remaining, next_attempt_at, state, disposition, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Handle, e.TargetNodeID, e.CommandType, e.Payload, e.SequenceNumber, e.AttemptsRemaining, e.NextAttemptAt, StatePending, DispositionNone, e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("base: enqueue: %w", err)
	}
	return res.LastInsertId()
}

// NextPendingForNode returns the oldest pending command targeting
// nodeID, or nil if none, implementing FIFO-by-enqueue-order per node.
func (db *DB) NextPendingForNode(nodeID uint8) (*CommandEntry, error) {
	row := db.conn.QueryRow(
		`SELECT `+commandColumns+`
		 FROM commands WHERE target_node_id = ? AND state = ? ORDER BY id ASC LIMIT 1`,
		nodeID, StatePending,
	)
	return scanCommand(row)
}

// InFlightForNode returns the node's current in-flight entry, if any.
func (db *DB) InFlightForNode(nodeID uint8) (*CommandEntry, error) {
	row := db.conn.QueryRow(
		`SELECT `+commandColumns+`
		 FROM commands WHERE target_node_id = ? AND state = ? ORDER BY id ASC LIMIT 1`,
		nodeID, StateInFlight,
	)
	return scanCommand(row)
}

// ExpiredInFlight returns every in-flight entry whose next-attempt
// deadline has passed.
func (db *DB) ExpiredInFlight(now time.Time) ([]*CommandEntry, error) {
	rows, err := db.conn.Query(
		`SELECT `+commandColumns+`
		 FROM commands WHERE state = ? AND next_attempt_at <= ?`,
		StateInFlight, now,
	)
	if err != nil {
		return nil, fmt.Errorf("base: expired in-flight: %w", err)
	}
	defer rows.Close()

	var out []*CommandEntry
	for rows.Next() {
		e, err := scanCommandRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkInFlight transitions entry id from pending to in-flight, stamping
// the sequence number, the post-send attempt budget, and the
// next-attempt deadline. Callers pass the budget remaining after the
// transmission they just made, so it stays accurate for the next
// ExpiredInFlight pass.
func (db *DB) MarkInFlight(id int64, seq uint8, attemptsRemaining int, nextAttempt time.Time) error {
	_, err := db.conn.Exec(
		`UPDATE commands SET state = ?, sequence_number = ?, attempts_remaining = ?, next_attempt_at = ? WHERE id = ?`,
		StateInFlight, seq, attemptsRemaining, nextAttempt, id,
	)
	return err
}

// Retry decrements attempts remaining and reschedules, or marks the
// entry failed if no attempts remain.
func (db *DB) Retry(id int64, attemptsRemaining int, nextAttempt time.Time) error {
	if attemptsRemaining <= 0 {
		return db.Complete(id, StateFailed, DispositionTimeout)
	}
	_, err := db.conn.Exec(
		`UPDATE commands SET attempts_remaining = ?, next_attempt_at = ? WHERE id = ?`,
		attemptsRemaining, nextAttempt, id,
	)
	return err
}

// Complete marks entry id done (or failed) with the given disposition.
func (db *DB) Complete(id int64, state CommandState, disposition Disposition) error {
	_, err := db.conn.Exec(
		`UPDATE commands SET state = ?, disposition = ? WHERE id = ?`,
		state, disposition, id,
	)
	return err
}

// CommandStatus returns a single command entry's current lifecycle
// state and disposition, looked up by its public handle.
func (db *DB) CommandStatus(handle string) (CommandState, Disposition, error) {
	row := db.conn.QueryRow(`SELECT state, disposition FROM commands WHERE handle = ?`, handle)
	var state CommandState
	var disposition Disposition
	if err := row.Scan(&state, &disposition); err != nil {
		return "", "", fmt.Errorf("base: command status %s: %w", handle, err)
	}
	return state, disposition, nil
}

// UpsertNode records a frame received from nodeID, creating the node's
// registry entry if this is the first time it has been seen.
func (db *DB) UpsertNode(nodeID uint8, seenAt time.Time) (isNew bool, err error) {
	row := db.conn.QueryRow(`SELECT node_id FROM nodes WHERE node_id = ?`, nodeID)
	var existing int
	err = row.Scan(&existing)
	if err == sql.ErrNoRows {
		_, err = db.conn.Exec(
			`INSERT INTO nodes (node_id, first_seen, last_seen, last_time_sync) VALUES (?, ?, ?, ?)`,
			nodeID, seenAt, seenAt, time.Unix(0, 0),
		)
		return true, err
	}
	if err != nil {
		return false, err
	}
	_, err = db.conn.Exec(`UPDATE nodes SET last_seen = ? WHERE node_id = ?`, seenAt, nodeID)
	return false, err
}

// MarkTimeSynced updates a node's last-time-sync timestamp.
func (db *DB) MarkTimeSynced(nodeID uint8, at time.Time) error {
	_, err := db.conn.Exec(`UPDATE nodes SET last_time_sync = ? WHERE node_id = ?`, at, nodeID)
	return err
}

// AllNodes returns every registered node.
func (db *DB) AllNodes() ([]*Node, error) {
	rows, err := db.conn.Query(`SELECT node_id, first_seen, last_seen, last_time_sync FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n := &Node{}
		if err := rows.Scan(&n.NodeID, &n.FirstSeen, &n.LastSeen, &n.LastTimeSync); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row *sql.Row) (*CommandEntry, error) {
	e, err := scanCommandGeneric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanCommandRows(rows *sql.Rows) (*CommandEntry, error) {
	return scanCommandGeneric(rows)
}

func scanCommandGeneric(s rowScanner) (*CommandEntry, error) {
	e := &CommandEntry{}
	err := s.Scan(&e.ID, &e.Handle, &e.TargetNodeID, &e.CommandType, &e.Payload, &e.SequenceNumber,
		&e.AttemptsRemaining, &e.NextAttemptAt, &e.State, &e.Disposition, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}
