package likes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/wishspace-backend/internal/ledger"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts   = 5
	defaultBackoffBase   = 5 * time.Millisecond
	defaultBackoffMax    = 100 * time.Millisecond
	backoffJitterPercent = 50
)

// Outcome distinguishes a like that was recorded now from one that already existed.
type Outcome string

const (
	OutcomeLiked        Outcome = "liked"
	OutcomeAlreadyLiked Outcome = "already_liked"
)

// Result is the successful outcome of Like.
type Result struct {
	Outcome   Outcome
	LikeCount int64
}

// Record is the persisted layout of a like in the likes collection.
type Record struct {
	WishID    string    `json:"wishId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// keySeparator joins the pair in a like key. Wish ids are uuids, so a wish id
// never contains it and the key stays unambiguous for any user id.
const keySeparator = "_"

// Key is the likes collection key for the pair.
func Key(wishID, userID string) string {
	return wishID + keySeparator + userID
}

func validatePair(wishID, userID string) error {
	switch {
	case wishID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "wish id is required")
	case strings.Contains(wishID, keySeparator):
		return pkgerrors.New(pkgerrors.CodeValidation, "wish id is malformed")
	case userID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return nil
}

// CoordinatorParams groups dependencies for the like coordinator.
type CoordinatorParams struct {
	Store    ledger.Store
	Notifier wishes.Notifier
	Metrics  *metrics.LikeMetrics
	Logger   *logger.Logger

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Now         func() time.Time
}

// Coordinator records likes at most once per user and wish.
type Coordinator interface {
	Like(ctx context.Context, wishID, userID string) (Result, error)
	HasLiked(ctx context.Context, wishID, userID string) (bool, error)
}

type coordinator struct {
	store       ledger.Store
	notifier    wishes.Notifier
	metrics     *metrics.LikeMetrics
	logg        *logger.Logger
	maxAttempts int
	base        time.Duration
	max         time.Duration
	now         func() time.Time
}

// NewCoordinator builds a coordinator with the required dependencies.
func NewCoordinator(params CoordinatorParams) (Coordinator, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger store is required")
	}
	c := &coordinator{
		store:       params.Store,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		logg:        params.Logger,
		maxAttempts: params.MaxAttempts,
		base:        params.BackoffBase,
		max:         params.BackoffMax,
		now:         params.Now,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.base <= 0 {
		c.base = defaultBackoffBase
	}
	if c.max < c.base {
		c.max = defaultBackoffMax
		if c.max < c.base {
			c.max = c.base
		}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c, nil
}

func (c *coordinator) backoff() retry.Backoff {
	b := retry.NewExponential(c.base)
	b = retry.WithCappedDuration(c.max, b)
	b = retry.WithJitterPercent(backoffJitterPercent, b)
	return retry.WithMaxRetries(uint64(c.maxAttempts-1), b)
}

func (c *coordinator) Like(ctx context.Context, wishID, userID string) (Result, error) {
	wishID = strings.TrimSpace(wishID)
	userID = strings.TrimSpace(userID)
	if err := validatePair(wishID, userID); err != nil {
		c.metrics.IncOutcome(outcomeLabel(err))
		return Result{}, err
	}

	started := time.Now()
	var (
		result  Result
		version int64
	)
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		res, ver, err := c.attempt(ctx, wishID, userID)
		if errors.Is(err, ledger.ErrConflict) {
			c.metrics.IncConflict()
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result, version = res, ver
		return nil
	})
	c.metrics.ObserveDuration(time.Since(started))

	if err != nil {
		err = c.mapError(err)
		c.metrics.IncOutcome(outcomeLabel(err))
		if c.logg != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
			logCtx := c.logg.WithWishID(c.logg.WithUserID(ctx, userID), wishID)
			c.logg.Warn(logCtx, "like.failed: "+err.Error())
		}
		return Result{}, err
	}

	c.metrics.IncOutcome(string(result.Outcome))
	if c.logg != nil {
		logCtx := c.logg.WithWishVersion(c.logg.WithUserID(ctx, userID), wishID, version)
		c.logg.Debug(c.logg.WithField(logCtx, "outcome", result.Outcome), "like.committed")
	}
	if result.Outcome == OutcomeLiked && c.notifier != nil {
		c.notifier.WishUpdated(ctx, wishID, result.LikeCount, version)
	}
	return result, nil
}

// attempt runs one like transaction. The returned version is the wish record
// version written by the transaction, or zero when nothing was written.
func (c *coordinator) attempt(ctx context.Context, wishID, userID string) (Result, int64, error) {
	var (
		result  Result
		version int64
	)
	likeKey := Key(wishID, userID)
	err := c.store.Transact(ctx, func(tx ledger.Tx) error {
		_, err := tx.Get(ledger.CollectionLikes, likeKey)
		switch {
		case err == nil:
			doc, _, err := readWish(tx, wishID)
			if err != nil {
				return err
			}
			result = Result{Outcome: OutcomeAlreadyLiked, LikeCount: doc.LikeCount}
			return nil
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		doc, readVersion, err := readWish(tx, wishID)
		if err != nil {
			return err
		}
		created, err := tx.CreateIfAbsent(ledger.CollectionLikes, likeKey, Record{
			WishID:    wishID,
			UserID:    userID,
			CreatedAt: c.now(),
		})
		if err != nil {
			return err
		}
		if !created {
			// another transaction recorded the like after our read
			return ledger.ErrConflict
		}
		doc.LikeCount++
		if err := tx.Put(ledger.CollectionWishes, wishID, doc); err != nil {
			return err
		}
		result = Result{Outcome: OutcomeLiked, LikeCount: doc.LikeCount}
		version = readVersion + 1
		return nil
	})
	if err != nil {
		return Result{}, 0, err
	}
	return result, version, nil
}

func readWish(tx ledger.Tx, wishID string) (wishes.Document, int64, error) {
	rec, err := tx.Get(ledger.CollectionWishes, wishID)
	if errors.Is(err, ledger.ErrNotFound) {
		return wishes.Document{}, 0, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "wish not found")
	}
	if err != nil {
		return wishes.Document{}, 0, err
	}
	_, doc, err := wishes.DecodeRecord(rec)
	if err != nil {
		return wishes.Document{}, 0, err
	}
	return doc, rec.Version, nil
}

func (c *coordinator) HasLiked(ctx context.Context, wishID, userID string) (bool, error) {
	wishID = strings.TrimSpace(wishID)
	userID = strings.TrimSpace(userID)
	if err := validatePair(wishID, userID); err != nil {
		return false, err
	}
	_, err := c.store.Get(ctx, ledger.CollectionLikes, Key(wishID, userID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ledger.ErrNotFound):
		return false, nil
	default:
		return false, ledger.ToAppError(err, "failed to read like")
	}
}

func (c *coordinator) mapError(err error) error {
	if errors.Is(err, ledger.ErrConflict) {
		return pkgerrors.Wrap(pkgerrors.CodeCongested, err, "like could not be recorded, too many concurrent updates")
	}
	return ledger.ToAppError(err, "failed to record like")
}

func outcomeLabel(err error) string {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeNotFound:
		return "not_found"
	case pkgerrors.CodeCongested:
		return "congested"
	case pkgerrors.CodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
