package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/store"
)

// CreateRoom inserts one room record.
func (s *Store) CreateRoom(ctx context.Context, room domain.Room) error {
	if strings.TrimSpace(string(room.ID)) == "" {
		return fmt.Errorf("room id is required")
	}
	if strings.TrimSpace(room.Title) == "" {
		return fmt.Errorf("room title is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO rooms (id, title, host_id, type, is_active, max_participants, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(room.ID),
		room.Title,
		string(room.HostID),
		string(room.Type),
		boolToInt(room.IsActive),
		room.MaxParticipants,
		toMillis(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// GetRoom returns one room by id, including inactive rooms.
func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, title, host_id, type, is_active, max_participants, created_at
		 FROM rooms WHERE id = ?`,
		string(id),
	)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// SetRoomInactive ends a room. The flag never goes back to active.
func (s *Store) SetRoomInactive(ctx context.Context, id domain.RoomID) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE rooms SET is_active = 0 WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("set room inactive: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set room inactive: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListActiveRooms returns active rooms newest-first with live connected
// participant counts.
func (s *Store) ListActiveRooms(ctx context.Context) ([]store.RoomWithCount, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT r.id, r.title, r.host_id, r.type, r.is_active, r.max_participants, r.created_at,
		        (SELECT COUNT(*) FROM participants p WHERE p.room_id = r.id AND p.is_connected = 1)
		 FROM rooms r
		 WHERE r.is_active = 1
		 ORDER BY r.created_at DESC, r.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	defer rows.Close()

	out := make([]store.RoomWithCount, 0)
	for rows.Next() {
		var (
			room      domain.Room
			active    int
			createdAt int64
			count     int
		)
		if err := rows.Scan(
			&room.ID, &room.Title, &room.HostID, &room.Type,
			&active, &room.MaxParticipants, &createdAt, &count,
		); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.IsActive = active != 0
		room.CreatedAt = fromMillis(createdAt)
		out = append(out, store.RoomWithCount{Room: room, ParticipantCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var (
		room      domain.Room
		active    int
		createdAt int64
	)
	err := row.Scan(
		&room.ID, &room.Title, &room.HostID, &room.Type,
		&active, &room.MaxParticipants, &createdAt,
	)
	if err != nil {
		return domain.Room{}, err
	}
	room.IsActive = active != 0
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
