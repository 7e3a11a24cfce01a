package db

import (
	"database/sql"
	"fmt"
)

// User is a row of the users table.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LanguageCode string
}

// UpsertUser records a user, refreshing the profile fields on every contact.
func UpsertUser(db *sql.DB, u User) error {
	_, err := db.Exec(
		`INSERT INTO users (user_id, username, first_name, language_code) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			language_code = excluded.language_code`,
		u.ID, nullable(u.Username), nullable(u.FirstName), nullable(u.LanguageCode),
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

// LogCrisisEvent records that a user's message triggered crisis handling.
// trigger names the detector ("keyword"); matched is what it matched.
func LogCrisisEvent(db *sql.DB, userID int64, trigger, matched string) error {
	_, err := db.Exec(
		`INSERT INTO crisis_events (user_id, trigger, matched) VALUES (?, ?, ?)`,
		userID, trigger, nullable(matched),
	)
	if err != nil {
		return fmt.Errorf("log crisis event user_id=%d: %w", userID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
