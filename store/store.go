// Package store persists fetched message history in a local sqlite
// database so a reopened chat paints instantly, even offline. The store is
// a cache of server state, never the authority: refetched pages overwrite
// whatever is on disk.
package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"marketchat/models"
)

// Store is a local message history store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection only: a second pooled connection to ":memory:" opens
	// its own empty database, and sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	tables := `
	CREATE TABLE IF NOT EXISTS messages (
		chat_id INTEGER NOT NULL,
		id INTEGER NOT NULL,
		content TEXT NOT NULL,
		from_me INTEGER NOT NULL DEFAULT 0,
		sent_at DATETIME,
		PRIMARY KEY (chat_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	`
	_, err := db.Exec(tables)
	return err
}

// SaveMessages upserts a batch of messages for a room. The batch is applied
// in one transaction so a failure leaves the store untouched.
func (s *Store) SaveMessages(chatID int64, msgs []models.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO messages (chat_id, id, content, from_me, sent_at) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range msgs {
		var sentAt interface{}
		if msg.SentAt != nil {
			sentAt = *msg.SentAt
		}
		if _, err := stmt.Exec(chatID, msg.ID, msg.Content, msg.FromMe, sentAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentMessages retrieves stored messages for a room, newest first.
func (s *Store) RecentMessages(chatID int64, limit, offset int) ([]models.Message, error) {
	rows, err := s.db.Query(
		"SELECT id, content, from_me, sent_at FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ? OFFSET ?",
		chatID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var sentAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.FromMe, &sentAt); err != nil {
			return nil, err
		}
		msg.ChatID = chatID
		if sentAt.Valid {
			t := sentAt.Time.UTC()
			msg.SentAt = &t
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// DeleteChat removes all stored messages for a room.
func (s *Store) DeleteChat(chatID int64) error {
	_, err := s.db.Exec("DELETE FROM messages WHERE chat_id = ?", chatID)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
