package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/store"
)

// CreateMessage inserts one immutable message row.
func (s *Store) CreateMessage(ctx context.Context, msg domain.Message) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID,
		string(msg.RoomID),
		string(msg.SenderID),
		msg.Content,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListMessages pages newest-first. The cursor points at the oldest row of
// the previous page; ties on created_at fall back to id so pagination never
// skips or duplicates.
func (s *Store) ListMessages(ctx context.Context, roomID domain.RoomID, cursor *store.Cursor, limit int) (store.MessagePage, error) {
	if limit <= 0 {
		limit = store.DefaultPageSize
	}
	if limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}

	query := `SELECT id, room_id, sender_id, content, created_at
	          FROM messages WHERE room_id = ?`
	args := []any{string(roomID)}
	if cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		millis := toMillis(cursor.CreatedAt)
		args = append(args, millis, millis, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	// Fetch one extra row to learn whether another page exists.
	args = append(args, limit+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return store.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return store.MessagePage{}, err
	}

	page := store.MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		next := store.CursorFor(page.Messages[limit-1])
		page.NextCursor = &next
	}
	return page, nil
}

// ListMessagesSince returns messages created strictly after since, oldest
// first, capped for reconnect resync.
func (s *Store) ListMessagesSince(ctx context.Context, roomID domain.RoomID, since time.Time) ([]domain.Message, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, room_id, sender_id, content, created_at
		 FROM messages
		 WHERE room_id = ? AND created_at > ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		string(roomID), toMillis(since), store.MaxResyncMessages,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()
	out := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg       domain.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}
	return out, nil
}
