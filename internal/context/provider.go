package context

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteProvider stores the conversation log in the conversation_messages table.
type SQLiteProvider struct {
	DB *sql.DB
}

// Append stores one turn together with its token estimate.
func (p *SQLiteProvider) Append(userID int64, role, content string) error {
	_, err := p.DB.Exec(
		`INSERT INTO conversation_messages (user_id, role, content, tokens_est) VALUES (?, ?, ?, ?)`,
		userID, role, content, EstimateTokens(content),
	)
	if err != nil {
		return fmt.Errorf("append message user_id=%d: %w", userID, err)
	}
	return nil
}

// FetchOrdered returns every stored turn of the user, oldest first.
func (p *SQLiteProvider) FetchOrdered(userID int64) ([]StoredMessage, error) {
	rows, err := p.DB.Query(
		`SELECT role, content, tokens_est, created_at FROM conversation_messages
		 WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch messages user_id=%d: %w", userID, err)
	}
	defer rows.Close()

	var results []StoredMessage
	for rows.Next() {
		var (
			m         StoredMessage
			createdAt int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &m.TokensEst, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message user_id=%d: %w", userID, err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteAll removes the user's conversation log and reports how many rows went.
func (p *SQLiteProvider) DeleteAll(userID int64) (int64, error) {
	res, err := p.DB.Exec(`DELETE FROM conversation_messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete messages user_id=%d: %w", userID, err)
	}
	return res.RowsAffected()
}
