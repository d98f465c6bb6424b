package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is the durable Store backend.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (and if necessary bootstraps) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows readers to proceed while a write is in flight; the busy
	// timeout makes SQLite retry instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &SQLite{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *SQLite) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	passhash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	message_id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_undelivered ON messages(recipient, delivered);
`
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) IdentityExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *SQLite) CreateIdentity(username, credentialHash string) error {
	exists, err := db.IdentityExists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrIdentityExists
	}
	_, err = db.conn.Exec(
		"INSERT INTO users (username, passhash) VALUES (?, ?)",
		username, credentialHash,
	)
	return err
}

func (db *SQLite) CredentialHash(username string) (string, error) {
	var hash string
	err := db.conn.QueryRow("SELECT passhash FROM users WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrIdentityNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (db *SQLite) ListIdentities() ([]string, error) {
	rows, err := db.conn.Query("SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

func (db *SQLite) DeleteIdentity(username string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIdentityNotFound
	}

	if _, err := tx.Exec(
		"DELETE FROM messages WHERE sender = ? OR recipient = ?",
		username, username,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *SQLite) InsertMessage(sender, recipient, body string, timestamp int64) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, body, created_at) VALUES (?, ?, ?, ?)",
		sender, recipient, body, timestamp,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *SQLite) FetchMessages(userA, userB string) ([]Message, error) {
	rows, err := db.conn.Query(`
		SELECT message_id, sender, recipient, body, created_at, delivered
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY created_at, message_id`,
		userA, userB, userB, userA,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *SQLite) FetchUndelivered(username string, limit int) ([]Message, error) {
	rows, err := db.conn.Query(`
		SELECT message_id, sender, recipient, body, created_at, delivered
		FROM messages
		WHERE recipient = ? AND delivered = 0
		ORDER BY created_at, message_id
		LIMIT ?`,
		username, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *SQLite) CountUndelivered(username string) (int64, error) {
	var count int64
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE recipient = ? AND delivered = 0",
		username,
	).Scan(&count)
	return count, err
}

func (db *SQLite) MarkDelivered(messageID int64) error {
	_, err := db.conn.Exec("UPDATE messages SET delivered = 1 WHERE message_id = ?", messageID)
	return err
}

func (db *SQLite) MarkAllDelivered(recipient string) error {
	_, err := db.conn.Exec("UPDATE messages SET delivered = 1 WHERE recipient = ?", recipient)
	return err
}

func (db *SQLite) DeleteMessage(messageID int64, requester string) error {
	var sender string
	err := db.conn.QueryRow("SELECT sender FROM messages WHERE message_id = ?", messageID).Scan(&sender)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if sender != requester {
		return ErrNotSender
	}
	_, err = db.conn.Exec("DELETE FROM messages WHERE message_id = ?", messageID)
	return err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var delivered int
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &m.Timestamp, &delivered); err != nil {
			return nil, err
		}
		m.Delivered = delivered != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
