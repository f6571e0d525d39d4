package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/appsnowball/internal/config"
	"github.com/masahif/appsnowball/internal/crawler"
	"github.com/masahif/appsnowball/internal/logging"
	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/relevance"
	"github.com/masahif/appsnowball/internal/searchengine"
	"github.com/masahif/appsnowball/internal/storage"
	"github.com/masahif/appsnowball/internal/worker"
)

// runtime holds everything a command needs for one market.
type runtime struct {
	cfg      *config.Config
	market   marketplace.Market
	store    *storage.Store
	worker   *worker.Client
	engine   *searchengine.Client
	snowball *crawler.Snowball
	closers  []func() error
}

// newRuntime sets up logging, opens the store and connects to the worker
// and the search engines. App store markets start the worker when its
// socket is missing.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	market, err := marketplace.ParseMarket(cfg.Market)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, market: market}

	logFile, err := logging.SetDefault(logging.Config{
		Level:      logging.ParseLevel(cfg.Log.Level),
		FilePath:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	rt.closers = append(rt.closers, logFile.Close)

	dbPath := cfg.ActiveDatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	rt.store, err = storage.Open(dbPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	rt.closers = append(rt.closers, rt.store.Close)

	filter, err := newFilter(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.engine = searchengine.NewClient(searchengine.Config{
		UserAgent:    cfg.Search.UserAgent,
		Timeout:      cfg.Search.Timeout,
		HostLanguage: cfg.Search.HostLanguage,
		Region:       strings.ToUpper(cfg.Search.Region),
		Backoff:      cfg.Search.Backoff,
		Delay:        cfg.Search.Delay,
		Blacklist:    filter.Blacklist(cfg.Threshold),
	})
	rt.closers = append(rt.closers, func() error { rt.engine.Close(); return nil })

	address := cfg.Worker.Address
	if market.IsAppStore() && address == "" {
		launcher := &worker.Launcher{
			Command: cfg.Worker.Command,
			Socket:  worker.SocketPath(cfg.Worker.SocketDir, market),
			Market:  market,
			LogFile: filepath.Join(cfg.Worker.SocketDir, "appsnowball_"+market.String()+".log"),
		}
		if err := launcher.Ensure(ctx, cfg.Worker.Fresh); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to start worker: %w", err)
		}
		address = "unix://" + launcher.Socket
	}
	if address == "" {
		// Search engine markets never reach the worker.
		address = "unix://" + worker.SocketPath(cfg.Worker.SocketDir, market)
	}
	rt.worker, err = worker.NewClient(worker.Options{
		Address:  address,
		Timeout:  cfg.Worker.Timeout,
		Locale:   cfg.Locale(),
		Throttle: cfg.Throttle,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() error { rt.worker.Close(); return nil })

	rt.snowball, err = crawler.New(ctx, snowballOptions(cfg, market), rt.store, rt.worker, rt.engine, filter)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("Failed to release resource", "error", err)
		}
	}
	rt.closers = nil
}

func (rt *runtime) requireAppStore() error {
	if !rt.market.IsAppStore() {
		return fmt.Errorf("%w: %s has no apps", worker.ErrUnsupported, rt.market)
	}
	return nil
}

func newFilter(cfg *config.Config) (*relevance.Filter, error) {
	block, allow := cfg.BlockPatterns, cfg.AllowPatterns
	if len(block) == 0 {
		block = relevance.DefaultBlockPatterns
	}
	if len(allow) == 0 {
		allow = relevance.DefaultAllowPatterns
	}
	return relevance.NewFilter(block, allow)
}

func snowballOptions(cfg *config.Config, market marketplace.Market) crawler.Options {
	return crawler.Options{
		Market:          market,
		Locale:          cfg.Locale(),
		ClosureLimit:    cfg.ClosureLimit,
		AppClosureLimit: cfg.AppClosureLimit,
		SimilarLimit:    cfg.SimilarAppsLimit,
		AppsPerQuery:    cfg.AppsPerQuery,
		ReviewsPerApp:   cfg.ReviewsPerApp,
		MaxReviewPages:  cfg.MaxReviewPages,
		StaleAfter:      cfg.StaleAfter,
		FreshnessWindow: cfg.FreshnessWindow,
		Threshold:       cfg.Threshold,
	}
}

// withRuntime loads the configuration, builds a runtime and runs fn with it.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = fn(ctx, rt)
	if errors.Is(err, crawler.ErrReviewBatch) {
		slog.Error("Review batch could not be stored, stopping", "error", err)
	}
	return err
}

// readAppIDs returns the ids given as arguments, or read from file (one
// per line) minus those listed in the appId column of <file>_done.
func readAppIDs(args []string, file string) ([]string, error) {
	if file == "" {
		return args, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read app ids: %w", err)
	}
	done, err := readDoneIDs(file + "_done")
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if id == "" || done[id] || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return append(ids, args...), nil
}

func readDoneIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	done := make(map[string]bool)
	if len(records) == 0 {
		return done, nil
	}
	col := -1
	for i, name := range records[0] {
		if strings.TrimSpace(name) == "appId" {
			col = i
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%s has no appId column", path)
	}
	for _, rec := range records[1:] {
		if col < len(rec) {
			done[strings.TrimSpace(rec[col])] = true
		}
	}
	return done, nil
}

// printResult writes v to the command output in the configured format.
func printResult(w io.Writer, v any) error {
	if strings.EqualFold(viper.GetString("output"), "yaml") {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
