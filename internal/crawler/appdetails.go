package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/storage"
	"github.com/masahif/appsnowball/internal/worker"
)

// detailSimilarLimit caps the similar ids stored with an app snapshot.
const detailSimilarLimit = 50

// appUnique identifies an app snapshot.
var appUnique = []string{"appId", "description", "title", "permissions", "updated"}

// noPermissions is stored for markets that do not expose permissions.
var noPermissions = []string{"<not available>"}

// DownloadAppDetails fetches one app and stores a snapshot of it unless the
// store already holds one from the current freshness window, or the app has
// not been updated within StaleAfter.
func (s *Snowball) DownloadAppDetails(ctx context.Context, appID string) (Outcome, error) {
	appID = strings.TrimSpace(appID)
	lookupID := appID

	if s.opts.Market == marketplace.IOS && worker.IsIOSTrackID(appID) {
		trackID := strings.TrimPrefix(appID, "id")
		row, _, err := s.store.FindLatest(ctx, s.appsTable, storage.Where{"iosid": trackID})
		if err != nil {
			slog.Warn("Failed to resolve ios track id", "id", appID, "error", err)
		} else if row != nil {
			lookupID = row.String("appId")
		}
	}

	known := s.store.Exists(ctx, s.appsTable, "appId", lookupID, 0).Exists()

	app, err := s.source.App(ctx, s.opts.Market, appID)
	if err != nil {
		return OutcomeMissing, fmt.Errorf("failed to fetch app %s: %w", appID, err)
	}
	if app == nil {
		if !known {
			slog.Info("No app with appId", "app_id", appID)
			return OutcomeMissing, nil
		}
		if _, err := s.store.Stamp(ctx, s.appsTable, "appId", lookupID, "discontinued", true); err != nil {
			slog.Error("Failed to mark app discontinued", "app_id", lookupID, "error", err)
		}
		slog.Info("App discontinued", "app_id", lookupID)
		return OutcomeDiscontinued, nil
	}
	if app.AppID == "" {
		slog.Warn("Marketplace returned an app without appId", "app_id", appID)
		return OutcomeMissing, nil
	}
	if app.AppID != lookupID {
		known = s.store.Exists(ctx, s.appsTable, "appId", app.AppID, 0).Exists()
	}

	if known {
		fresh := s.store.Exists(ctx, s.appsTable, "appId", app.AppID, s.opts.FreshnessWindow).Exists()
		stale := !app.Updated.IsZero() && s.store.Now().Sub(app.Updated) > s.opts.StaleAfter
		if fresh || stale {
			slog.Debug("Discarding app details", "app_id", app.AppID, "fresh", fresh, "stale", stale)
			s.stampLastSeen(ctx, app.AppID)
			return OutcomeDiscarded, nil
		}
	}

	similar, err := s.source.Similar(ctx, s.opts.Market, app.AppID, detailSimilarLimit)
	if err != nil {
		return OutcomeMissing, fmt.Errorf("failed to fetch similar apps of %s: %w", app.AppID, err)
	}
	app.Similar = similar

	app.Permissions = noPermissions
	if s.opts.Market == marketplace.Android {
		perms, err := s.source.Permissions(ctx, s.opts.Market, app.AppID)
		if err != nil {
			return OutcomeMissing, fmt.Errorf("failed to fetch permissions of %s: %w", app.AppID, err)
		}
		app.Permissions = perms
	}

	outcome := OutcomeUnchanged
	inserted, err := s.store.InsertIfAbsent(ctx, s.appsTable, s.appRow(app), appUnique)
	if err != nil {
		// Single app rows are independent; skip this one.
		slog.Error("Failed to store app", "app_id", app.AppID, "error", err)
		return OutcomeMissing, nil
	}
	if inserted {
		outcome = OutcomeStored
	}

	s.updateDescription(ctx, app)
	s.stampLastSeen(ctx, app.AppID)
	return outcome, nil
}

func (s *Snowball) appRow(app *marketplace.App) storage.Row {
	row := storage.Row{
		"appId":       app.AppID,
		"title":       app.Title,
		"description": app.Description,
		"developer":   app.Developer,
		"score":       app.Score,
		"similar":     nonNil(app.Similar),
		"permissions": nonNil(app.Permissions),
		"details":     app.Extra,
		"lang":        s.opts.Locale.Lang,
		"country":     s.opts.Locale.Country,
	}
	if app.IOSID != "" {
		row["iosid"] = app.IOSID
	}
	if !app.Updated.IsZero() {
		row["updated"] = app.Updated
	}
	if app.Reviews >= 0 {
		row["reviews"] = app.Reviews
	}
	return row
}

// updateDescription appends to the description history when the
// description changed since the last stored one.
func (s *Snowball) updateDescription(ctx context.Context, app *marketplace.App) {
	last, _, err := s.store.FindLatest(ctx, s.descTable, storage.Where{"appId": app.AppID})
	if err != nil {
		slog.Error("Failed to read description history", "app_id", app.AppID, "error", err)
		return
	}
	if last != nil && last.String("description") == app.Description {
		return
	}
	if _, err := s.store.InsertIfAbsent(ctx, s.descTable,
		storage.Row{"appId": app.AppID, "description": app.Description}, []string{"appId", "description", storage.TimeColumn}); err != nil {
		slog.Error("Failed to store description", "app_id", app.AppID, "error", err)
	}
}

func (s *Snowball) stampLastSeen(ctx context.Context, appID string) {
	if _, err := s.store.Stamp(ctx, s.appsTable, "appId", appID, "lastseen", false); err != nil {
		slog.Error("Failed to stamp lastseen", "app_id", appID, "error", err)
	}
}

// DownloadAllAppDetails downloads details for every app ever associated
// with a stored term of the active locale, then optionally their reviews.
func (s *Snowball) DownloadAllAppDetails(ctx context.Context, reviews bool) (map[Outcome]int, int, error) {
	appIDs, err := s.store.UnionJSONSets(ctx, s.termsTable, "apps", s.locale())
	if err != nil {
		slog.Error("Failed to list app ids", "error", err)
		appIDs = nil
	}
	slog.Info("Downloading app details", "market", s.opts.Market, "apps", len(appIDs))

	outcomes := make(map[Outcome]int)
	for i, appID := range appIDs {
		outcome, err := s.DownloadAppDetails(ctx, appID)
		if err != nil {
			return outcomes, 0, err
		}
		outcomes[outcome]++
		if i%10 == 0 {
			slog.Info("App details progress", "market", s.opts.Market, "done", i)
		}
	}

	added := 0
	if reviews {
		slog.Info("Downloading reviews", "market", s.opts.Market, "apps", len(appIDs))
		for _, appID := range appIDs {
			stats, err := s.DownloadReviews(ctx, appID, s.opts.ReviewsPerApp)
			if err != nil {
				return outcomes, added, err
			}
			added += stats.Added
		}
	}
	return outcomes, added, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
