package wishes

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/wishspace-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []Wish
	updated []string
}

func (n *recordingNotifier) WishCreated(_ context.Context, wish Wish) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, wish)
}

func (n *recordingNotifier) WishUpdated(_ context.Context, wishID string, likeCount int64, version int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, fmt.Sprintf("%s:%d:%d", wishID, likeCount, version))
}

func newTestRegistry(t *testing.T, params RegistryParams) (Registry, *ledger.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := ledger.NewMemoryStore()
	notifier := &recordingNotifier{}
	params.Store = store
	params.Notifier = notifier
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg, err := NewRegistry(params)
	require.NoError(t, err)
	return reg, store, notifier
}

func TestNewRegistryRequiresStore(t *testing.T) {
	_, err := NewRegistry(RegistryParams{})
	require.Error(t, err)
}

func TestCreatePersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	draws := []float64{0.25, 0.5}
	reg, store, notifier := newTestRegistry(t, RegistryParams{
		NewID: func() string { return "w1" },
		Rand: func() float64 {
			v := draws[0]
			draws = draws[1:]
			return v
		},
	})

	wish, err := reg.Create(ctx, CreateInput{AuthorID: "u1", Username: "alice", Text: "  make a wish  "})
	require.NoError(t, err)

	assert.Equal(t, "w1", wish.ID)
	assert.Equal(t, "make a wish", wish.Text)
	assert.Equal(t, "u1", wish.AuthorID)
	assert.Equal(t, "alice", wish.DisplayName)
	assert.False(t, wish.IsAnonymous)
	assert.Equal(t, Position{X: 25, Y: 50}, wish.Position)
	assert.Zero(t, wish.LikeCount)
	assert.Equal(t, int64(1), wish.Version)
	assert.False(t, wish.CreatedAt.IsZero())

	rec, err := store.Get(ctx, ledger.CollectionWishes, "w1")
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{
		"text":"make a wish","userId":"u1","username":"alice","isAnonymous":false,
		"x":25,"y":50,"likeCount":0,"createdAt":%q
	}`, wish.CreatedAt.Format(time.RFC3339Nano)), string(rec.Payload))

	require.Len(t, notifier.created, 1)
	assert.Equal(t, wish, notifier.created[0])
}

func TestCreateRejectsEmptyText(t *testing.T) {
	reg, store, notifier := newTestRegistry(t, RegistryParams{})
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := reg.Create(context.Background(), CreateInput{AuthorID: "u1", Text: text})
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}
	recs, err := store.Scan(context.Background(), ledger.CollectionWishes)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, notifier.created)
}

func TestCreateRequiresAuthor(t *testing.T) {
	reg, _, _ := newTestRegistry(t, RegistryParams{})
	_, err := reg.Create(context.Background(), CreateInput{Text: "hi"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestCreateTruncatesAfterTrimming(t *testing.T) {
	reg, _, _ := newTestRegistry(t, RegistryParams{})
	input := "   " + strings.Repeat("a", 250) + "   "

	wish, err := reg.Create(context.Background(), CreateInput{AuthorID: "u1", Text: input})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 200), wish.Text)
}

func TestNormalizeTextCountsCharactersNotBytes(t *testing.T) {
	got := NormalizeText(strings.Repeat("✨", 250))
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "short", NormalizeText(" short "))
	exact := strings.Repeat("b", 200)
	assert.Equal(t, exact, NormalizeText(exact))
}

func TestCreateAnonymityIsLockedIn(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t, RegistryParams{})

	anon, err := reg.Create(ctx, CreateInput{AuthorID: "u1", Username: "alice", Text: "x", IsAnonymous: true})
	require.NoError(t, err)
	assert.Equal(t, AnonymousDisplayName, anon.DisplayName)
	assert.True(t, anon.IsAnonymous)

	// the author later posts under a new username
	_, err = reg.Create(ctx, CreateInput{AuthorID: "u1", Username: "alice2", Text: "y"})
	require.NoError(t, err)

	stored, err := reg.Get(ctx, anon.ID)
	require.NoError(t, err)
	assert.Equal(t, AnonymousDisplayName, stored.DisplayName)
	assert.Equal(t, "u1", stored.AuthorID)
}

func TestResolveDisplayName(t *testing.T) {
	assert.Equal(t, "alice", ResolveDisplayName(" alice ", false))
	assert.Equal(t, AnonymousDisplayName, ResolveDisplayName("alice", true))
	assert.Equal(t, AnonymousDisplayName, ResolveDisplayName("  ", false))
}

func TestCoordinatesStayOnBoard(t *testing.T) {
	values := []float64{0, 0.999999999999, 1, -0.5}
	reg, _, _ := newTestRegistry(t, RegistryParams{})
	r := reg.(*registry)
	for _, v := range values {
		r.rand = func() float64 { return v }
		got := r.coordinate()
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, BoardSize)
	}

	reg2, _, _ := newTestRegistry(t, RegistryParams{})
	for i := 0; i < 100; i++ {
		wish, err := reg2.Create(context.Background(), CreateInput{AuthorID: "u", Text: "t"})
		require.NoError(t, err)
		assert.True(t, wish.Position.X >= 0 && wish.Position.X < BoardSize)
		assert.True(t, wish.Position.Y >= 0 && wish.Position.Y < BoardSize)
	}
}

func TestCreatedAtIsMonotonic(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	reg, _, _ := newTestRegistry(t, RegistryParams{
		Now: func() time.Time {
			v := times[0]
			times = times[1:]
			return v
		},
	})

	var got []time.Time
	for i := 0; i < 3; i++ {
		wish, err := reg.Create(context.Background(), CreateInput{AuthorID: "u", Text: "t"})
		require.NoError(t, err)
		got = append(got, wish.CreatedAt)
	}
	assert.Equal(t, base, got[0])
	assert.Equal(t, base, got[1])
	assert.Equal(t, base.Add(time.Second), got[2])
}

func TestGetNotFound(t *testing.T) {
	reg, _, _ := newTestRegistry(t, RegistryParams{})
	_, err := reg.Get(context.Background(), "missing")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = reg.Get(context.Background(), "")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestListAllReturnsEveryWishOnce(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t, RegistryParams{})

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		wish, err := reg.Create(ctx, CreateInput{AuthorID: "u", Text: fmt.Sprintf("wish %d", i)})
		require.NoError(t, err)
		ids[wish.ID] = true
	}

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	seen := map[string]bool{}
	for _, w := range all {
		assert.True(t, ids[w.ID])
		assert.False(t, seen[w.ID], "duplicate %s", w.ID)
		seen[w.ID] = true
	}
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}
}
