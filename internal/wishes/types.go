package wishes

import (
	"context"
	"time"

	"github.com/angelmondragon/wishspace-backend/internal/ledger"
)

const (
	// MaxTextLength is the limit applied to trimmed wish text, in characters.
	MaxTextLength = 200
	// AnonymousDisplayName replaces the username on anonymous wishes.
	AnonymousDisplayName = "Anonymous"
	// BoardSize is the exclusive upper bound of both position axes.
	BoardSize = 100.0
)

// Position places a wish on the board. Both axes are in [0, BoardSize).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Wish is the public view of a posted wish.
type Wish struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	AuthorID    string    `json:"author_id"`
	DisplayName string    `json:"display_name"`
	IsAnonymous bool      `json:"is_anonymous"`
	Position    Position  `json:"position"`
	LikeCount   int64     `json:"like_count"`
	CreatedAt   time.Time `json:"created_at"`
	Version     int64     `json:"version"`
}

// Document is the persisted layout of a wish in the wishes collection.
type Document struct {
	Text        string    `json:"text"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	IsAnonymous bool      `json:"isAnonymous"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	LikeCount   int64     `json:"likeCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ToWish builds the public view of the document stored under id.
func (d Document) ToWish(id string, version int64) Wish {
	return Wish{
		ID:          id,
		Text:        d.Text,
		AuthorID:    d.UserID,
		DisplayName: d.Username,
		IsAnonymous: d.IsAnonymous,
		Position:    Position{X: d.X, Y: d.Y},
		LikeCount:   d.LikeCount,
		CreatedAt:   d.CreatedAt,
		Version:     version,
	}
}

// DecodeRecord reads a wishes collection record.
func DecodeRecord(rec ledger.Record) (Wish, Document, error) {
	var doc Document
	if err := rec.Decode(&doc); err != nil {
		return Wish{}, Document{}, err
	}
	return doc.ToWish(rec.Key, rec.Version), doc, nil
}

// CreateInput carries the author identity and form values of a new wish.
type CreateInput struct {
	AuthorID    string
	Username    string
	Text        string
	IsAnonymous bool
}

// Notifier receives committed wish mutations. Implementations must not block.
type Notifier interface {
	WishCreated(ctx context.Context, wish Wish)
	WishUpdated(ctx context.Context, wishID string, likeCount int64, version int64)
}
