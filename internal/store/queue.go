package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// putTimeout bounds a single delivery attempt against the record store.
const putTimeout = 10 * time.Second

// Queue is a bounded-retry write queue. Every Enqueue lands in a SQLite
// journal first; a single worker replays rows oldest-first. A row that
// exhausts its retry budget is marked failed and kept for inspection —
// nothing retries forever, and waiting between attempts is an explicit
// cancellable timer, never self-rescheduling.
type Queue struct {
	db      *sql.DB
	store   RecordStore
	retries int
	backoff time.Duration

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// Open opens (or creates) the journal at path and starts the worker.
// store may be nil: writes are journaled but not delivered until a store
// is configured on a later run.
func Open(path string, store RecordStore, maxRetries int, backoff time.Duration) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue journal: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure queue journal: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_writes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			collection  TEXT NOT NULL,
			record_id   TEXT NOT NULL,
			payload     TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue table: %w", err)
	}

	q := &Queue{
		db:      db,
		store:   store,
		retries: maxRetries,
		backoff: backoff,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Enqueue journals one record write and nudges the worker.
func (q *Queue) Enqueue(collection, recordID string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = q.db.Exec(
		`INSERT INTO pending_writes (collection, record_id, payload) VALUES (?, ?, ?)`,
		collection, recordID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal record: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of journaled rows still awaiting delivery.
func (q *Queue) Pending() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_writes WHERE failed = 0`).Scan(&n)
	return n, err
}

// Failed returns the number of rows that exhausted their retry budget.
func (q *Queue) Failed() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_writes WHERE failed = 1`).Scan(&n)
	return n, err
}

// run is the worker loop: drain everything deliverable, then sleep until
// the next Enqueue or the retry backoff elapses.
func (q *Queue) run() {
	defer q.wg.Done()

	for {
		delivered, retryable := q.drain()
		if delivered > 0 {
			log.Printf("STORE: delivered %d queued write(s)", delivered)
		}

		if retryable {
			// Failed attempt left in the journal: wait out the backoff,
			// but stay cancellable.
			timer := time.NewTimer(q.backoff)
			select {
			case <-q.done:
				timer.Stop()
				return
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-q.done:
			return
		case <-q.wake:
		}
	}
}

// drain attempts every live row once, oldest first. Returns the number of
// delivered rows and whether a retryable row remains.
func (q *Queue) drain() (delivered int, retryable bool) {
	if q.store == nil {
		return 0, false
	}

	for {
		var (
			id         int64
			collection string
			recordID   string
			payload    string
			attempts   int
		)
		err := q.db.QueryRow(
			`SELECT id, collection, record_id, payload, attempts
			 FROM pending_writes WHERE failed = 0 ORDER BY id LIMIT 1`,
		).Scan(&id, &collection, &recordID, &payload, &attempts)
		if err == sql.ErrNoRows {
			return delivered, false
		}
		if err != nil {
			log.Printf("STORE: journal read error: %v", err)
			return delivered, false
		}

		ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
		putErr := q.store.Put(ctx, collection, recordID, []byte(payload))
		cancel()

		if putErr == nil {
			if _, err := q.db.Exec(`DELETE FROM pending_writes WHERE id = ?`, id); err != nil {
				log.Printf("STORE: journal delete error: %v", err)
			}
			delivered++
			continue
		}

		attempts++
		if attempts >= q.retries {
			log.Printf("STORE: write %s/%s failed permanently after %d attempts: %v",
				collection, recordID, attempts, putErr)
			_, _ = q.db.Exec(`UPDATE pending_writes SET attempts = ?, failed = 1 WHERE id = ?`, attempts, id)
			continue
		}

		log.Printf("STORE: write %s/%s failed (attempt %d/%d): %v",
			collection, recordID, attempts, q.retries, putErr)
		_, _ = q.db.Exec(`UPDATE pending_writes SET attempts = ? WHERE id = ?`, attempts, id)
		return delivered, true
	}
}

// Close stops the worker and closes the journal. Journaled rows survive
// for the next run.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return q.db.Close()
}
