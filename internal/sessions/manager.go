package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/wishspace-backend/internal/feed"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/google/uuid"
)

// Subscriber registers delivery queues on the change feed.
type Subscriber interface {
	Subscribe() (*feed.Subscription, error)
}

// Lister reads the full board.
type Lister interface {
	ListAll(ctx context.Context) ([]wishes.Wish, error)
}

// ManagerParams groups dependencies for the session manager.
type ManagerParams struct {
	Feed   Subscriber
	Wishes Lister
	Logger *logger.Logger
	NewID  func() string
}

// Manager opens viewer sessions.
type Manager struct {
	feed   Subscriber
	wishes Lister
	logg   *logger.Logger
	newID  func() string
}

// NewManager builds a manager with the required dependencies.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Feed == nil {
		return nil, errors.New("feed is required")
	}
	if params.Wishes == nil {
		return nil, errors.New("wish lister is required")
	}
	if params.NewID == nil {
		params.NewID = uuid.NewString
	}
	return &Manager{
		feed:   params.Feed,
		wishes: params.Wishes,
		logg:   params.Logger,
		newID:  params.NewID,
	}, nil
}

// Open registers on the feed, then reads the snapshot. Events already
// reflected in the snapshot are filtered out by Session.Next.
func (m *Manager) Open(ctx context.Context) ([]wishes.Wish, *Session, error) {
	sub, err := m.feed.Subscribe()
	if err != nil {
		if errors.Is(err, feed.ErrFeedClosed) {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "change feed is shutting down")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "subscribe to change feed")
	}

	snapshot, err := m.wishes.ListAll(ctx)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}

	baseline := make(map[string]int64, len(snapshot))
	for _, w := range snapshot {
		baseline[w.ID] = w.Version
	}

	session := &Session{
		id:       m.newID(),
		sub:      sub,
		baseline: baseline,
	}
	if m.logg != nil {
		logCtx := m.logg.WithSessionID(ctx, session.id)
		m.logg.Debug(m.logg.WithField(logCtx, "snapshot_size", len(snapshot)), "session.opened")
	}
	return snapshot, session, nil
}

// Session is one viewer's live registration on the feed.
type Session struct {
	id       string
	sub      *feed.Subscription
	baseline map[string]int64
	once     sync.Once
}

func (s *Session) ID() string {
	return s.id
}

// Next blocks until the next event newer than the snapshot arrives. When the
// feed drops the session it returns the termination cause, or feed.ErrFeedClosed
// after a local Close.
func (s *Session) Next(ctx context.Context) (feed.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return feed.Event{}, ctx.Err()
		case evt, ok := <-s.sub.Events():
			if !ok {
				if err := s.sub.Err(); err != nil {
					return feed.Event{}, err
				}
				return feed.Event{}, feed.ErrFeedClosed
			}
			if seen, found := s.baseline[evt.WishID]; found && evt.Version <= seen {
				continue
			}
			return evt, nil
		}
	}
}

// Close releases the feed registration. It is safe to call more than once and
// concurrently with Next.
func (s *Session) Close() {
	s.once.Do(s.sub.Close)
}
