package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/appsnowball/internal/crawler"
	"github.com/masahif/appsnowball/internal/marketplace"
)

func newCrawlCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "crawl [seed terms...]",
		Short: "Snowball the seed terms and download details of every app found",
		RunE: func(cmd *cobra.Command, args []string) error {
			withReviews, _ := cmd.Flags().GetBool("reviews")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				seeds := args
				if len(seeds) == 0 {
					seeds = rt.cfg.SeedTerms
				}
				opts := crawler.RunOptions{
					Seeds:       seeds,
					Settings:    rt.cfg.Settings(),
					Reviews:     withReviews,
					SnowballDir: rt.cfg.SnowballDir,
				}
				if rt.cfg.MissedItemsPath != "" {
					f, err := os.OpenFile(rt.cfg.MissedItemsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
					if err != nil {
						return fmt.Errorf("failed to open missed items file: %w", err)
					}
					defer func() { _ = f.Close() }()
					opts.Missed = f
				}

				stats, err := rt.snowball.Crawl(ctx, opts)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), crawlSummary(stats))
			})
		},
	}
	c.Flags().Bool("reviews", false, "Also download reviews of every app")
	return c
}

func outcomeCounts(outcomes map[crawler.Outcome]int) map[string]int {
	out := make(map[string]int, len(outcomes))
	for o, n := range outcomes {
		out[o.String()] = n
	}
	return out
}

func crawlSummary(stats *crawler.RunStats) map[string]any {
	return map[string]any{
		"run_id":       stats.RunID,
		"seed_closure": stats.SeedClosure,
		"terms":        stats.Terms,
		"missed":       stats.Missed,
		"apps":         stats.Apps,
		"outcomes":     outcomeCounts(stats.Outcomes),
		"reviews":      stats.Reviews,
		"duration":     stats.Duration.Round(time.Second).String(),
	}
}

func newAppDetailsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "appdetails [app ids...]",
		Short: "Download app details for the given apps, or for every known app",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			withReviews, _ := cmd.Flags().GetBool("reviews")
			ids, err := readAppIDs(args, file)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.requireAppStore(); err != nil {
					return err
				}
				if len(ids) == 0 && file == "" {
					outcomes, added, err := rt.snowball.DownloadAllAppDetails(ctx, withReviews)
					if err != nil {
						return err
					}
					return printResult(cmd.OutOrStdout(), map[string]any{
						"outcomes": outcomeCounts(outcomes),
						"reviews":  added,
					})
				}

				outcomes := make(map[string]string, len(ids))
				for i, id := range ids {
					outcome, err := rt.snowball.DownloadAppDetails(ctx, id)
					if err != nil {
						return err
					}
					outcomes[id] = outcome.String()
					if withReviews {
						if _, err := rt.snowball.DownloadReviews(ctx, id, rt.cfg.ReviewsPerApp); err != nil {
							return err
						}
					}
					if i%10 == 0 {
						slog.Info("App details progress", "done", i, "total", len(ids))
					}
				}
				return printResult(cmd.OutOrStdout(), outcomes)
			})
		},
	}
	c.Flags().StringP("file", "f", "", "File with one app id per line")
	c.Flags().Bool("reviews", false, "Also download reviews")
	return c
}

func newReviewsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "reviews [app ids...]",
		Short: "Download reviews for the given apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			limit, _ := cmd.Flags().GetInt("limit")
			ids, err := readAppIDs(args, file)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("no app ids given")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.requireAppStore(); err != nil {
					return err
				}
				if limit <= 0 {
					limit = rt.cfg.ReviewsPerApp
				}
				var all []*crawler.ReviewStats
				for _, id := range ids {
					stats, err := rt.snowball.DownloadReviews(ctx, id, limit)
					if err != nil {
						return err
					}
					all = append(all, stats)
				}
				return printResult(cmd.OutOrStdout(), all)
			})
		},
	}
	c.Flags().StringP("file", "f", "", "File with one app id per line")
	c.Flags().IntP("limit", "l", 0, "Reviews wanted per app (default reviews_per_app)")
	return c
}

// qsClosureLimit bounds the printed query snowball; it is far above
// closure_limit because nothing is stored.
const qsClosureLimit = 10000

func newQSCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "qs [terms...|all]",
		Short: "Query snowball: print the suggestion closure of terms",
		Long: `Expands the terms into one suggestion closure and prints every term
with the term that led to it. "all" expands the configured seed terms.

With --apps each term is instead expanded on its own, the apps the
marketplace lists for it are looked up and the result is stored; stored
results from the current freshness window are reused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withApps, _ := cmd.Flags().GetBool("apps")
			cached, _ := cmd.Flags().GetBool("cached")
			limit, _ := cmd.Flags().GetInt("limit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				terms := args
				if len(args) == 1 && args[0] == "all" {
					terms = rt.cfg.SeedTerms
				}
				if !withApps {
					res, err := rt.snowball.ClosureOfTerms(ctx, terms, limit)
					if err != nil {
						return err
					}
					return printResult(cmd.OutOrStdout(), res.Parents)
				}

				results := make([]*crawler.TermResult, 0, len(terms))
				for _, term := range terms {
					res, err := rt.snowball.TermsAndApps(ctx, term, !cached)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				return printResult(cmd.OutOrStdout(), results)
			})
		},
	}
	c.Flags().IntP("limit", "l", qsClosureLimit, "Closure size bound")
	c.Flags().Bool("apps", false, "Also look up and store the apps of each term")
	c.Flags().Bool("cached", false, "With --apps, reuse stored results of any age")
	return c
}

func newSimilarAppsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "similarapps <app ids...>",
		Short: "Snowball app ids through similar apps",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if limit <= 0 {
					limit = rt.cfg.AppClosureLimit
				}
				res, err := rt.snowball.ClosureOfApps(ctx, args, limit)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res.Parents)
			})
		},
	}
	c.Flags().IntP("limit", "l", 0, "Closure size bound (default app_closure_limit)")
	return c
}

func newSearchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "search <query>",
		Short: "Query a search engine or the marketplace directly",
		Long: `Queries one search service. "google" returns the result page
(links, filtered suggestions and ads); bing, google-comp, google-related
and play-comp return suggestions; "apps" lists the ids of the apps the
configured marketplace returns for the query.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _ := cmd.Flags().GetString("engine")
			site, _ := cmd.Flags().GetString("site")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				var (
					result any
					err    error
				)
				switch engine {
				case "apps":
					if err := rt.requireAppStore(); err != nil {
						return err
					}
					result, err = rt.snowball.AppIDsForQuery(ctx, args[0])
				case "google":
					result, err = rt.engine.GoogleSearch(ctx, args[0], site)
				case string(marketplace.Bing):
					result, err = rt.engine.BingSuggest(ctx, args[0])
				case string(marketplace.GoogleComplete):
					result, err = rt.engine.GoogleComplete(ctx, args[0])
				case string(marketplace.GoogleRelated):
					result, err = rt.engine.GoogleRelated(ctx, args[0])
				case "play-comp":
					result, err = rt.engine.PlayComplete(ctx, args[0])
				default:
					return fmt.Errorf("unknown engine %q", engine)
				}
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), result)
			})
		},
	}
	c.Flags().StringP("engine", "e", "google", "Engine: google, bing, google-comp, google-related, play-comp or apps")
	c.Flags().String("site", "", "Restrict google results to a site")
	return c
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Download a few reviews of a well known app to check the setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				stats, err := rt.snowball.SmokeTest(ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), stats)
			})
		},
	}
}
