package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soapboxhq/soapbox/internal/domain"
)

// Cursor marks the oldest item of a returned message page. The next page
// contains rows strictly older, with the message id breaking creation-time
// ties.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque token back into a cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty cursor token")
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c, nil
}

// CursorFor builds the cursor pointing at msg.
func CursorFor(msg domain.Message) Cursor {
	return Cursor{CreatedAt: msg.CreatedAt, ID: msg.ID}
}
