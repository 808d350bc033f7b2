package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ThreadForChat returns the backend thread ID bound to a chat, or
// ("", false) when the chat has no session yet.
func (db *DB) ThreadForChat(chatID string) (string, bool, error) {
	var threadID string
	err := db.QueryRow(
		`SELECT thread_id FROM chat_sessions WHERE chat_id = ?`, chatID,
	).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query chat session: %w", err)
	}
	return threadID, true, nil
}

// SetThreadForChat upserts the chat → thread binding with the current
// timestamp. Called on first exchange and on every recovery rebind.
func (db *DB) SetThreadForChat(chatID, threadID string) error {
	_, err := db.Exec(`
		INSERT INTO chat_sessions(chat_id, thread_id, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			updated_at = excluded.updated_at
	`, chatID, threadID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

// DeleteSession removes a chat's binding (explicit reset).
func (db *DB) DeleteSession(chatID string) error {
	if _, err := db.Exec(`DELETE FROM chat_sessions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}
