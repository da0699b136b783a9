package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/proclean/proclean/internal/domain"
)

const historyDBName = "history.db"

// HistoryStore implements domain.ReportStore on a SQLCipher encrypted
// SQLite database. Report lines contain full command lines of the
// cleaned processes, which can include credentials passed as arguments,
// hence encryption at rest.
type HistoryStore struct {
	db     *sql.DB
	dbPath string
}

// NewHistoryStore opens (or creates) the encrypted history database.
// The key is applied as the SQLCipher passphrase via PRAGMA key.
func NewHistoryStore(dataDir string, key []byte) (*HistoryStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
		dbPath, hex.EncodeToString(key))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	store := &HistoryStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *HistoryStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node TEXT NOT NULL,
		build TEXT NOT NULL DEFAULT '',
		disabled INTEGER NOT NULL DEFAULT 0,
		attempted INTEGER NOT NULL,
		killed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		lines TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one report.
func (s *HistoryStore) Append(r *domain.CleanReport) error {
	disabled := 0
	if r.Disabled {
		disabled = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO reports (node, build, disabled, attempted, killed, failed, started, finished, lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Node, r.BuildID, disabled,
		len(r.Attempted), len(r.Killed), len(r.Failures),
		r.Started.Unix(), r.Finished.Unix(),
		strings.Join(r.Render(), "\n"),
	)
	return err
}

// Recent returns the newest reports, most recent first.
func (s *HistoryStore) Recent(limit int) ([]domain.ReportSummary, error) {
	rows, err := s.db.Query(`
		SELECT node, build, disabled, attempted, killed, failed, started, finished, lines
		FROM reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.ReportSummary
	for rows.Next() {
		var sum domain.ReportSummary
		var disabled int
		var started, finished int64
		var lines string
		if err := rows.Scan(&sum.Node, &sum.BuildID, &disabled,
			&sum.Attempted, &sum.Killed, &sum.Failed,
			&started, &finished, &lines); err != nil {
			return nil, err
		}
		sum.Disabled = disabled != 0
		sum.Started = time.Unix(started, 0)
		sum.Finished = time.Unix(finished, 0)
		if lines != "" {
			sum.Lines = strings.Split(lines, "\n")
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Ensure HistoryStore implements domain.ReportStore.
var _ domain.ReportStore = (*HistoryStore)(nil)
