package feed

import (
	"time"

	"github.com/angelmondragon/wishspace-backend/internal/wishes"
)

// EventType names a committed wish mutation.
type EventType string

const (
	EventWishCreated EventType = "wish.created"
	EventWishUpdated EventType = "wish.updated"
)

// Event is one committed mutation. Version is the wish record version written
// by the commit, so events for a wish are totally ordered by it.
type Event struct {
	Type        EventType    `json:"type"`
	WishID      string       `json:"wish_id"`
	Version     int64        `json:"version"`
	Wish        *wishes.Wish `json:"wish,omitempty"`
	LikeCount   int64        `json:"like_count"`
	CommittedAt time.Time    `json:"committed_at"`
}

// CreatedEvent builds the event announcing a new wish.
func CreatedEvent(wish wishes.Wish, at time.Time) Event {
	w := wish
	return Event{
		Type:        EventWishCreated,
		WishID:      wish.ID,
		Version:     wish.Version,
		Wish:        &w,
		LikeCount:   wish.LikeCount,
		CommittedAt: at,
	}
}

// UpdatedEvent builds the event announcing a new like count.
func UpdatedEvent(wishID string, likeCount, version int64, at time.Time) Event {
	return Event{
		Type:        EventWishUpdated,
		WishID:      wishID,
		Version:     version,
		LikeCount:   likeCount,
		CommittedAt: at,
	}
}
