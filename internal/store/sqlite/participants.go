package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/store"
)

// CreateParticipant inserts one membership row. The UNIQUE(room_id, user_id)
// constraint keeps rejoin from ever duplicating a seat.
func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO participants (id, room_id, user_id, role, mic_enabled, is_connected, connection_id, joined_at, disconnected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		string(p.RoomID),
		string(p.UserID),
		string(p.Role),
		boolToInt(p.MicEnabled),
		boolToInt(p.IsConnected),
		nullableConn(p.ConnectionID),
		toMillis(p.JoinedAt),
		nullableMillis(p.DisconnectedAt),
	)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// GetParticipant returns the membership row for (room, user).
func (s *Store) GetParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Participant, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		participantColumns+` WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID),
	)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// MarkConnected restores the connection flag and handle and clears the
// disconnected timestamp.
func (s *Store) MarkConnected(ctx context.Context, roomID domain.RoomID, userID domain.UserID, conn domain.ConnectionID) error {
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants
		 SET is_connected = 1, connection_id = ?, disconnected_at = NULL
		 WHERE room_id = ? AND user_id = ?`,
		string(conn), string(roomID), string(userID),
	)
	if err != nil {
		return fmt.Errorf("mark connected: %w", err)
	}
	return requireRow(res)
}

// MarkDisconnected clears the connection flag. A non-empty conn restricts
// the update to the row still holding that transport handle.
func (s *Store) MarkDisconnected(ctx context.Context, roomID domain.RoomID, userID domain.UserID, conn domain.ConnectionID, at time.Time) error {
	query := `UPDATE participants
	          SET is_connected = 0, connection_id = NULL, disconnected_at = ?
	          WHERE room_id = ? AND user_id = ?`
	args := []any{toMillis(at), string(roomID), string(userID)}
	if conn != "" {
		query += ` AND connection_id = ?`
		args = append(args, string(conn))
	}
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
	}
	return requireRow(res)
}

// UpdateRole sets the role and mic flag in one atomic write.
func (s *Store) UpdateRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role, micEnabled bool) error {
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants SET role = ?, mic_enabled = ? WHERE room_id = ? AND user_id = ?`,
		string(role), boolToInt(micEnabled), string(roomID), string(userID),
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireRow(res)
}

// DeleteParticipant removes the membership row entirely.
func (s *Store) DeleteParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	res, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM participants WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID),
	)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return requireRow(res)
}

// ListConnected returns connected participants ordered by join time.
func (s *Store) ListConnected(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		participantColumns+` WHERE room_id = ? AND is_connected = 1 ORDER BY joined_at ASC, id ASC`,
		string(roomID),
	)
	if err != nil {
		return nil, fmt.Errorf("list connected: %w", err)
	}
	return collectParticipants(rows)
}

// CountConnected counts connected participants in one room.
func (s *Store) CountConnected(ctx context.Context, roomID domain.RoomID) (int, error) {
	var count int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM participants WHERE room_id = ? AND is_connected = 1`,
		string(roomID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count connected: %w", err)
	}
	return count, nil
}

// DisconnectAll marks every participant of a room disconnected. Used when a
// room ends.
func (s *Store) DisconnectAll(ctx context.Context, roomID domain.RoomID, at time.Time) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants
		 SET is_connected = 0, connection_id = NULL, disconnected_at = ?
		 WHERE room_id = ? AND is_connected = 1`,
		toMillis(at), string(roomID),
	)
	if err != nil {
		return fmt.Errorf("disconnect all: %w", err)
	}
	return nil
}

// ParticipantsForConnection lists connected rows bound to one transport
// handle.
func (s *Store) ParticipantsForConnection(ctx context.Context, conn domain.ConnectionID) ([]domain.Participant, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		participantColumns+` WHERE connection_id = ? AND is_connected = 1`,
		string(conn),
	)
	if err != nil {
		return nil, fmt.Errorf("participants for connection: %w", err)
	}
	return collectParticipants(rows)
}

const participantColumns = `SELECT id, room_id, user_id, role, mic_enabled, is_connected, connection_id, joined_at, disconnected_at
	 FROM participants`

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p              domain.Participant
		mic, connected int
		conn           sql.NullString
		joinedAt       int64
		disconnectedAt sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Role, &mic, &connected, &conn, &joinedAt, &disconnectedAt)
	if err != nil {
		return domain.Participant{}, err
	}
	p.MicEnabled = mic != 0
	p.IsConnected = connected != 0
	if conn.Valid {
		p.ConnectionID = domain.ConnectionID(conn.String)
	}
	p.JoinedAt = fromMillis(joinedAt)
	if disconnectedAt.Valid {
		at := fromMillis(disconnectedAt.Int64)
		p.DisconnectedAt = &at
	}
	return p, nil
}

func collectParticipants(rows *sql.Rows) ([]domain.Participant, error) {
	defer rows.Close()
	out := make([]domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect participants: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullableConn(conn domain.ConnectionID) any {
	if conn == "" {
		return nil
	}
	return string(conn)
}

func nullableMillis(at *time.Time) any {
	if at == nil {
		return nil
	}
	return toMillis(*at)
}
