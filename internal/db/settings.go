package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Well-known bot_settings keys.
const (
	KeyCurrentModel   = "current_model"
	KeySystemPrompt   = "system_prompt"
	KeyTelegramOffset = "telegram:offset"
)

// UserRoleKey is the settings key of a user's selected role.
func UserRoleKey(userID int64) string { return fmt.Sprintf("user:%d:role", userID) }

// UserTaskKey is the settings key of a user's selected task.
func UserTaskKey(userID int64) string { return fmt.Sprintf("user:%d:task", userID) }

// Settings is the bot_settings key-value store.
type Settings struct {
	DB *sql.DB
}

// Get returns the value stored under key, or def when there is none.
func (s *Settings) Get(key, def string) (string, error) {
	var v string
	err := s.DB.QueryRow(`SELECT value FROM bot_settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, nil
}

// Set stores value under key, replacing any previous value.
func (s *Settings) Set(key, value string) error {
	_, err := s.DB.Exec(
		`INSERT INTO bot_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Settings) Delete(key string) error {
	if _, err := s.DB.Exec(`DELETE FROM bot_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// Offset returns the persisted Telegram polling offset, or 0.
func (s *Settings) Offset() (int64, error) {
	v, err := s.Get(KeyTelegramOffset, "0")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", KeyTelegramOffset, v, err)
	}
	return n, nil
}

// SetOffset persists the next Telegram polling offset.
func (s *Settings) SetOffset(offset int64) error {
	return s.Set(KeyTelegramOffset, strconv.FormatInt(offset, 10))
}
