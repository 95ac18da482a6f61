package wishes

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/wishspace-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/google/uuid"
)

// RegistryParams groups dependencies for the wish registry.
type RegistryParams struct {
	Store    ledger.Store
	Notifier Notifier
	Logger   *logger.Logger

	// Optional overrides, used by tests.
	Now   func() time.Time
	Rand  func() float64
	NewID func() string
}

// Registry creates and looks up wishes.
type Registry interface {
	Create(ctx context.Context, input CreateInput) (Wish, error)
	Get(ctx context.Context, wishID string) (Wish, error)
	ListAll(ctx context.Context) ([]Wish, error)
}

type registry struct {
	store    ledger.Store
	notifier Notifier
	logg     *logger.Logger
	clock    *monotonicClock
	rand     func() float64
	newID    func() string
}

// NewRegistry builds a registry with the required dependencies.
func NewRegistry(params RegistryParams) (Registry, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger store is required")
	}
	r := &registry{
		store:    params.Store,
		notifier: params.Notifier,
		logg:     params.Logger,
		clock:    &monotonicClock{now: params.Now},
		rand:     params.Rand,
		newID:    params.NewID,
	}
	if r.clock.now == nil {
		r.clock.now = func() time.Time { return time.Now().UTC() }
	}
	if r.rand == nil {
		r.rand = rand.Float64
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r, nil
}

func (r *registry) Create(ctx context.Context, input CreateInput) (Wish, error) {
	authorID := strings.TrimSpace(input.AuthorID)
	if authorID == "" {
		return Wish{}, pkgerrors.New(pkgerrors.CodeValidation, "author id is required")
	}
	text := NormalizeText(input.Text)
	if text == "" {
		return Wish{}, pkgerrors.New(pkgerrors.CodeValidation, "wish text is required")
	}

	id := r.newID()
	doc := Document{
		Text:        text,
		UserID:      authorID,
		Username:    ResolveDisplayName(input.Username, input.IsAnonymous),
		IsAnonymous: input.IsAnonymous,
		X:           r.coordinate(),
		Y:           r.coordinate(),
		LikeCount:   0,
		CreatedAt:   r.clock.Now(),
	}

	rec, err := r.store.Put(ctx, ledger.CollectionWishes, id, doc)
	if err != nil {
		return Wish{}, ledger.ToAppError(err, "failed to store wish")
	}
	wish := doc.ToWish(id, rec.Version)

	if r.logg != nil {
		r.logg.Info(r.logg.WithWishID(ctx, id), "wish.created")
	}
	if r.notifier != nil {
		r.notifier.WishCreated(ctx, wish)
	}
	return wish, nil
}

func (r *registry) Get(ctx context.Context, wishID string) (Wish, error) {
	if strings.TrimSpace(wishID) == "" {
		return Wish{}, pkgerrors.New(pkgerrors.CodeValidation, "wish id is required")
	}
	rec, err := r.store.Get(ctx, ledger.CollectionWishes, wishID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Wish{}, pkgerrors.New(pkgerrors.CodeNotFound, "wish not found")
	}
	if err != nil {
		return Wish{}, ledger.ToAppError(err, "failed to read wish")
	}
	wish, _, err := DecodeRecord(rec)
	if err != nil {
		return Wish{}, ledger.ToAppError(err, "failed to read wish")
	}
	return wish, nil
}

func (r *registry) ListAll(ctx context.Context) ([]Wish, error) {
	recs, err := r.store.Scan(ctx, ledger.CollectionWishes)
	if err != nil {
		return nil, ledger.ToAppError(err, "failed to list wishes")
	}
	out := make([]Wish, 0, len(recs))
	for _, rec := range recs {
		wish, _, err := DecodeRecord(rec)
		if err != nil {
			return nil, ledger.ToAppError(err, "failed to read wish")
		}
		out = append(out, wish)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *registry) coordinate() float64 {
	v := r.rand() * BoardSize
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v >= BoardSize {
		return math.Nextafter(BoardSize, 0)
	}
	return v
}

// NormalizeText trims surrounding whitespace and cuts the result to
// MaxTextLength characters.
func NormalizeText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= MaxTextLength {
		return trimmed
	}
	return string(runes[:MaxTextLength])
}

// ResolveDisplayName returns the name shown on a wish. It is evaluated once at
// creation and stored with the wish.
func ResolveDisplayName(username string, anonymous bool) string {
	name := strings.TrimSpace(username)
	if anonymous || name == "" {
		return AnonymousDisplayName
	}
	return name
}

type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// Now never returns a time before a previously returned one.
func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
