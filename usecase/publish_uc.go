package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/treelistings/publication-service/domain/entity"
	"github.com/treelistings/publication-service/platform/metrics"
	"github.com/treelistings/publication-service/repository"
)

var (
	// ErrAssetUpload marks a failed photo upload. The transaction is never
	// entered, so there is nothing to clean up.
	ErrAssetUpload = errors.New("asset upload failed")

	// ErrTooManyConflicts surfaces when the bounded retry loop exhausts its
	// attempts without a clean commit.
	ErrTooManyConflicts = errors.New("publication failed after repeated transaction conflicts")
)

const defaultMaxTxAttempts = 5

// EventPublisher emits the listing.published event after a commit.
type EventPublisher interface {
	PublishListingPublished(ctx context.Context, listing *entity.Listing) error
}

// SellerNotifier tells the seller their listing went live.
type SellerNotifier interface {
	SendListingPublished(toEmail, listingTitle string) error
}

type PhotoUpload struct {
	FileName string
	Data     []byte
}

type PublishInput struct {
	SellerID    string
	Title       string
	Description string
	Price       float64
	Categories  []string
	Photo       *PhotoUpload
}

// PublishUsecase is the transaction coordinator: it turns a validated
// listing plus its category aggregates into one atomic commit, retrying the
// atomic section on conflicting concurrent commits. Cache, event, mail and
// metrics collaborators are optional; a nil collaborator skips that side
// effect.
type PublishUsecase struct {
	store         repository.DocumentStore
	assets        repository.AssetStorage
	cache         repository.ListingCache
	events        EventPublisher
	notifier      SellerNotifier
	metrics       *metrics.Manager
	log           *zap.Logger
	maxTxAttempts int
	tracer        trace.Tracer
}

type PublishUsecaseParams struct {
	Store         repository.DocumentStore
	Assets        repository.AssetStorage
	Cache         repository.ListingCache
	Events        EventPublisher
	Notifier      SellerNotifier
	Metrics       *metrics.Manager
	MaxTxAttempts int
	Logger        *zap.Logger
}

func NewPublishUsecase(p PublishUsecaseParams) *PublishUsecase {
	attempts := p.MaxTxAttempts
	if attempts <= 0 {
		attempts = defaultMaxTxAttempts
	}
	return &PublishUsecase{
		store:         p.Store,
		assets:        p.Assets,
		cache:         p.Cache,
		events:        p.Events,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		log:           p.Logger,
		maxTxAttempts: attempts,
		tracer:        otel.Tracer("publication-service"),
	}
}

// Publish validates the input, uploads the optional photo keyed by the
// pre-allocated listing ID, and commits the listing together with its
// category counters as one atomic unit. On success the new listing ID is
// returned and the listing plus every touched aggregate are visible
// together; on failure nothing is.
func (uc *PublishUsecase) Publish(ctx context.Context, input PublishInput) (string, error) {
	start := time.Now()
	ctx, span := uc.tracer.Start(ctx, "PublishUsecase.Publish")
	defer span.End()

	listing, err := entity.NewListing(input.SellerID, input.Title, input.Description, input.Price, input.Categories)
	if err != nil {
		uc.countFailure("validation")
		return "", fmt.Errorf("PublishUsecase.Publish: %w", err)
	}

	// The ID is fixed before the upload and before the atomic section, so
	// the asset reference and the record agree and retries reuse both.
	listing.ID = uc.store.AllocateID()
	span.SetAttributes(
		attribute.String("listing.id", listing.ID),
		attribute.String("listing.seller_id", listing.SellerID),
	)

	if input.Photo != nil {
		url, uploadErr := uc.assets.Upload(ctx, listing.ID, input.Photo.FileName, input.Photo.Data)
		if uploadErr != nil {
			uc.countFailure("asset_upload")
			uc.log.Warn("Photo upload failed, publication aborted",
				zap.String("listing_id", listing.ID),
				zap.Error(uploadErr),
			)
			return "", fmt.Errorf("PublishUsecase.Publish: %w: %v", ErrAssetUpload, uploadErr)
		}
		listing.PhotoURL = url
	}

	if err := uc.commitListing(ctx, listing); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("PublishUsecase.Publish: %w", err)
	}

	uc.afterPublish(ctx, listing)

	if uc.metrics != nil {
		uc.metrics.PublicationsTotal.Inc()
		uc.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	}
	uc.log.Info("Listing published",
		zap.String("listing_id", listing.ID),
		zap.String("seller_id", listing.SellerID),
		zap.Strings("categories", listing.Categories),
	)
	return listing.ID, nil
}

// commitListing drives the bounded retry loop. Every attempt re-reads the
// aggregates from scratch; the allocated ID and uploaded asset are reused
// across attempts.
func (uc *PublishUsecase) commitListing(ctx context.Context, listing *entity.Listing) error {
	var lastErr error
	for attempt := 1; attempt <= uc.maxTxAttempts; attempt++ {
		err := uc.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
			return uc.writeListingTx(ctx, tx, listing)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			uc.countFailure("store")
			return err
		}
		lastErr = err
		if uc.metrics != nil {
			uc.metrics.ConflictRetriesTotal.Inc()
		}
		uc.log.Warn("Publish transaction conflicted, retrying",
			zap.String("listing_id", listing.ID),
			zap.Int("attempt", attempt),
		)
	}
	uc.countFailure("conflict")
	return fmt.Errorf("%w (%d attempts): %v", ErrTooManyConflicts, uc.maxTxAttempts, lastErr)
}

// writeListingTx is one transaction attempt. The full read set is captured
// before the first write: the create-vs-increment branch per category is
// decided from what this attempt read, and the increment itself is the
// store's own atomic increment, never client arithmetic. Two transactions
// that both read the same category as absent cannot both create it; the
// store conflicts one of them and its retry takes the increment branch.
func (uc *PublishUsecase) writeListingTx(ctx context.Context, tx repository.Tx, listing *entity.Listing) error {
	exists := make(map[string]bool, len(listing.Categories))
	for _, code := range listing.Categories {
		_, err := tx.Get(ctx, categoryStatsCollection, code)
		switch {
		case err == nil:
			exists[code] = true
		case errors.Is(err, repository.ErrNotFound):
			exists[code] = false
		default:
			return err
		}
	}

	if err := tx.Set(ctx, listingsCollection, listing.ID, listingToDocument(listing), false); err != nil {
		return err
	}

	for _, code := range listing.Categories {
		if exists[code] {
			if err := tx.Increment(ctx, categoryStatsCollection, code, fieldActiveCount, 1); err != nil {
				return err
			}
		} else {
			if err := tx.Set(ctx, categoryStatsCollection, code, categoryStatsToDocument(entity.NewCategoryStats(code)), false); err != nil {
				return err
			}
		}
	}
	return nil
}

// afterPublish runs the best-effort side effects. None of them can fail the
// publication; the commit already happened.
func (uc *PublishUsecase) afterPublish(ctx context.Context, listing *entity.Listing) {
	if uc.cache != nil {
		if err := uc.cache.SetListing(ctx, listing); err != nil {
			uc.log.Warn("Failed to cache published listing",
				zap.String("listing_id", listing.ID),
				zap.Error(err),
			)
		}
	}
	if uc.events != nil {
		if err := uc.events.PublishListingPublished(ctx, listing); err != nil {
			uc.log.Warn("Failed to publish listing.published event",
				zap.String("listing_id", listing.ID),
				zap.Error(err),
			)
		}
	}
	if uc.notifier != nil {
		uc.notifySeller(ctx, listing)
	}
}

func (uc *PublishUsecase) notifySeller(ctx context.Context, listing *entity.Listing) {
	doc, err := uc.store.Get(ctx, usersCollection, listing.SellerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			uc.log.Warn("Failed to load seller profile for notification",
				zap.String("seller_id", listing.SellerID),
				zap.Error(err),
			)
		}
		return
	}
	seller := userFromDocument(listing.SellerID, doc)
	if seller.Email == "" {
		return
	}
	if err := uc.notifier.SendListingPublished(seller.Email, listing.Title); err != nil {
		uc.log.Warn("Failed to send listing published mail",
			zap.String("seller_id", listing.SellerID),
			zap.Error(err),
		)
	}
}

func (uc *PublishUsecase) countFailure(reason string) {
	if uc.metrics != nil {
		uc.metrics.PublishFailuresTotal.WithLabelValues(reason).Inc()
	}
}
