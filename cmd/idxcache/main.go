package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/cache/mirror"
	"github.com/marmos91/idxcache/pkg/config"
	"github.com/marmos91/idxcache/pkg/manager"
	"github.com/marmos91/idxcache/pkg/store"
)

const usage = `idxcache - local cache for shared search index directories

Usage:
  idxcache init [-config PATH] [-force]
  idxcache warm [-config PATH] -context NAME -index NAME [-group NAME] [-hold]

Commands:
  init   Write a default configuration file
  warm   Open the cache of one index partition and fetch all of its files.
         With -hold the cache stays open (reconciliation and metrics keep
         running) until SIGINT/SIGTERM.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "warm":
		err = runWarm(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.GetDefaultConfigPath(), "Path of the configuration file to write")
	force := fs.Bool("force", false, "Overwrite an existing file")
	_ = fs.Parse(args)

	if err := config.InitConfigToPath(*configPath, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", *configPath)
	return nil
}

func runWarm(args []string) error {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/idxcache/config.yaml)")
	subContext := fs.String("context", "", "Sub-context of the partition (required)")
	subIndex := fs.String("index", "", "Sub-index name of the partition (required)")
	group := fs.String("group", config.DefaultGroup, "Cache group of the partition")
	hold := fs.Bool("hold", false, "Keep the cache open until interrupted")
	_ = fs.Parse(args)

	if *subContext == "" || *subIndex == "" {
		fs.Usage()
		return errors.New("-context and -index are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ========================================================================
	// Step 1: Metrics
	// ========================================================================

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// ========================================================================
	// Step 2: Remote store and cache
	// ========================================================================

	remote, err := config.CreateRemoteStore(ctx, &cfg.Remote, metricsResult.S3Metrics)
	if err != nil {
		return err
	}

	mgr := manager.New(cfg.Cache, metricsResult.CacheMetrics)
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error("Failed to close caches: %v", err)
		}
	}()

	dir, err := mgr.Create(ctx, *subContext, *subIndex, *group, remote, manager.Options{})
	if err != nil {
		_ = remote.Close()
		return err
	}

	// ========================================================================
	// Step 3: Fetch every file
	// ========================================================================

	start := time.Now()
	files, bytes, err := warm(ctx, dir)
	if err != nil {
		return err
	}
	logger.Info("Warmed %s/%s: %d files, %s in %v",
		*subContext, *subIndex, files, humanize.IBytes(uint64(bytes)), time.Since(start).Round(time.Millisecond))

	if !*hold {
		return nil
	}

	if m, ok := dir.(*mirror.Mirror); ok {
		stats, err := m.Reconciler().RunNow(ctx)
		if err != nil {
			logger.Warn("Initial reconciliation failed: %v", err)
		} else {
			logger.Info("Initial reconciliation: %s", stats.Summary())
		}
	}

	logger.Info("Cache is open. Press Ctrl+C to stop.")
	<-ctx.Done()
	logger.Info("Shutting down...")
	return nil
}

// warm reads every file of dir once, so a mirror fetches all of them and a
// block cache loads the blocks that fit.
func warm(ctx context.Context, dir store.FileStore) (files int, total int64, err error) {
	names, err := dir.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list files: %w", err)
	}

	buf := make([]byte, store.DefaultCopyChunkSize)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return files, total, err
		}

		n, err := readThrough(ctx, dir, name, buf)
		if errors.Is(err, store.ErrNotFound) {
			// Merged away since the listing
			continue
		}
		if err != nil {
			return files, total, fmt.Errorf("read %s: %w", name, err)
		}

		files++
		total += n
	}

	return files, total, nil
}

func readThrough(ctx context.Context, dir store.FileStore, name string, buf []byte) (int64, error) {
	h, err := dir.OpenRead(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = h.Close() }()

	var off int64
	for off < h.Length() {
		n, err := h.ReadAt(buf, off)
		off += int64(n)
		if err != nil && off < h.Length() {
			return off, err
		}
		if n == 0 {
			break
		}
	}
	return off, nil
}
