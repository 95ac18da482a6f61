package sessions

import (
	"sort"
	"sync"

	"github.com/angelmondragon/wishspace-backend/internal/feed"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
)

// View is a consumer-side copy of the board kept current from feed events.
// Applying the same event more than once leaves it unchanged.
type View struct {
	mu     sync.RWMutex
	wishes map[string]wishes.Wish
}

func NewView(snapshot []wishes.Wish) *View {
	v := &View{wishes: make(map[string]wishes.Wish, len(snapshot))}
	for _, w := range snapshot {
		v.wishes[w.ID] = w
	}
	return v
}

// Apply folds one event into the view and reports whether it changed anything.
func (v *View) Apply(evt feed.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch evt.Type {
	case feed.EventWishCreated:
		if evt.Wish == nil {
			return false
		}
		if _, ok := v.wishes[evt.WishID]; ok {
			return false
		}
		w := *evt.Wish
		w.Version = evt.Version
		v.wishes[evt.WishID] = w
		return true
	case feed.EventWishUpdated:
		w, ok := v.wishes[evt.WishID]
		if !ok || evt.Version <= w.Version {
			return false
		}
		w.LikeCount = evt.LikeCount
		w.Version = evt.Version
		v.wishes[evt.WishID] = w
		return true
	default:
		return false
	}
}

func (v *View) Get(wishID string) (wishes.Wish, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	w, ok := v.wishes[wishID]
	return w, ok
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.wishes)
}

// Wishes returns the view ordered by creation time.
func (v *View) Wishes() []wishes.Wish {
	v.mu.RLock()
	out := make([]wishes.Wish, 0, len(v.wishes))
	for _, w := range v.wishes {
		out = append(out, w)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
