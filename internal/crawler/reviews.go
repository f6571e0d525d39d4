package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/storage"
)

var (
	// ErrDuplicateReview is returned when one fetched page repeats a review id.
	ErrDuplicateReview = errors.New("duplicate review id within a page")

	// ErrReviewBatch is returned when a review batch could not be stored.
	// The known-id set no longer matches the store, so the run must stop.
	ErrReviewBatch = errors.New("failed to store review batch")
)

// reviewTarget is the number of stored reviews to aim for: the caller limit
// capped by the marketplace-reported total, or by twice the stored count
// when the total is unknown.
func reviewTarget(limit int, total int64, haveTotal bool, stored int) int {
	ceiling := int64(2 * stored)
	if haveTotal {
		ceiling = total
	}
	if int64(limit) < ceiling {
		return limit
	}
	return int(ceiling)
}

// DownloadReviews pages through the reviews of appID until the store holds
// the target number of reviews or the marketplace runs out. Review ids
// already stored are skipped.
func (s *Snowball) DownloadReviews(ctx context.Context, appID string, limit int) (*ReviewStats, error) {
	stats := &ReviewStats{AppID: appID}

	storedIDs, err := s.store.ColumnValues(ctx, s.reviewsTable, "id", storage.Where{"appId": appID})
	if err != nil {
		slog.Warn("Failed to read stored reviews", "app_id", appID, "error", err)
		storedIDs = nil
	}
	known := make(map[string]bool, len(storedIDs))
	for _, id := range storedIDs {
		known[id] = true
	}
	count := len(storedIDs)

	var total int64
	haveTotal := false
	if row, _, err := s.store.FindLatest(ctx, s.appsTable, storage.Where{"appId": appID}); err != nil {
		slog.Warn("Failed to read review total", "app_id", appID, "error", err)
	} else if row != nil {
		total, haveTotal = row.Int("reviews")
	}
	stats.Target = reviewTarget(limit, total, haveTotal, count)

	for page := 0; count < stats.Target; page++ {
		if s.opts.MaxReviewPages > 0 && page >= s.opts.MaxReviewPages {
			slog.Warn("Review page limit reached", "app_id", appID, "pages", page)
			break
		}
		records, err := s.source.Reviews(ctx, s.opts.Market, appID, page)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch reviews of %s: %w", appID, err)
		}
		stats.Pages++
		if len(records) == 0 {
			break
		}

		batch := make([]storage.Row, 0, len(records))
		inBatch := make(map[string]bool, len(records))
		for _, rec := range records {
			review, ok := marketplace.ReviewFromRecord(rec)
			if !ok || known[review.ID] {
				continue
			}
			if inBatch[review.ID] {
				return stats, fmt.Errorf("%w: %s in page %d of %s", ErrDuplicateReview, review.ID, page, appID)
			}
			inBatch[review.ID] = true
			batch = append(batch, storage.Row{
				"id":       review.ID,
				"appId":    appID,
				"userName": review.UserName,
				"date":     review.Date,
				"score":    review.Score,
				"text":     review.Text,
				"extra":    review.Extra,
			})
		}

		if err := s.store.InsertMany(ctx, s.reviewsTable, batch); err != nil {
			return stats, fmt.Errorf("%w for %s: %v", ErrReviewBatch, appID, err)
		}
		for id := range inBatch {
			known[id] = true
		}
		count += len(batch)
		stats.Added += len(batch)
	}

	stats.Stored = count
	slog.Info("Downloaded reviews", "app_id", appID, "added", stats.Added, "stored", stats.Stored, "target", stats.Target)
	return stats, nil
}
