package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/megacli/megadl/engine"
	"github.com/megacli/megadl/mega"
)

// getFlags mirrors mega.Config plus the CLI-only output/path selectors.
type getFlags struct {
	output  string
	subpath string

	maxWorkers    int
	concurrency   int
	retries       int
	timeout       time.Duration
	minRetryDelay time.Duration
	maxRetryDelay time.Duration
	proxyMode     string
	proxies       []string
}

func newGetCmd(ctx context.Context, ro *rootOpts) *cobra.Command {
	gf := &getFlags{}

	cmd := &cobra.Command{
		Use:   "get <mega-url>",
		Short: "Download a public MEGA file or folder link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(ctx, ro, gf, args[0])
		},
	}

	defaults := mega.DefaultConfig()
	cmd.Flags().StringVarP(&gf.output, "output", "o", ".", "Destination directory")
	cmd.Flags().StringVar(&gf.subpath, "path", "", "Download only this sub-path of a folder link (folder links only)")
	cmd.Flags().IntVar(&gf.maxWorkers, "max-workers", defaults.MaxWorkers, "Maximum files downloading at once")
	cmd.Flags().IntVar(&gf.concurrency, "concurrency", defaults.ConcurrencyBudget, "Maximum concurrent byte-range requests per file")
	cmd.Flags().IntVar(&gf.retries, "retries", defaults.MaxRetries, "Max retry attempts per request")
	cmd.Flags().DurationVar(&gf.timeout, "timeout", defaults.Timeout, "Per-request HTTP timeout")
	cmd.Flags().DurationVar(&gf.minRetryDelay, "min-retry-delay", defaults.MinRetryDelay, "Initial retry backoff")
	cmd.Flags().DurationVar(&gf.maxRetryDelay, "max-retry-delay", defaults.MaxRetryDelay, "Maximum retry backoff")
	cmd.Flags().StringVar(&gf.proxyMode, "proxy-mode", string(defaults.ProxyMode), "Proxy mode: none|single|random")
	cmd.Flags().StringSliceVar(&gf.proxies, "proxy", nil, "Proxy URL(s); repeatable, or comma-separated")

	return cmd
}

func runGet(ctx context.Context, ro *rootOpts, gf *getFlags, url string) error {
	logger := newLogger(ro)

	cfg := mega.Config{
		APIURL:            mega.DefaultAPIURL,
		MaxWorkers:        gf.maxWorkers,
		ConcurrencyBudget: gf.concurrency,
		MaxRetries:        gf.retries,
		Timeout:           gf.timeout,
		MinRetryDelay:     gf.minRetryDelay,
		MaxRetryDelay:     gf.maxRetryDelay,
		ProxyMode:         mega.ProxyMode(gf.proxyMode),
		Proxies:           gf.proxies,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := mega.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	tree, err := client.FetchPublicNodes(ctx, url)
	if err != nil {
		return fmt.Errorf("resolving link: %w", err)
	}

	startNodes := tree.Roots()
	if gf.subpath != "" {
		n, err := tree.GetByPath(gf.subpath)
		if err != nil {
			return fmt.Errorf("resolving --path %q: %w", gf.subpath, err)
		}
		startNodes = []*mega.Node{n}
	}

	var files []*mega.Node
	for _, n := range startNodes {
		collectFiles(tree, n, &files)
	}
	if len(files) == 0 {
		logger.Warn().Msg("megadl: nothing to download")
		return nil
	}

	downloads := make([]*engine.Download, 0, len(files))
	for _, n := range files {
		relPath, err := tree.PathOf(n.Handle)
		if err != nil {
			return err
		}
		downloads = append(downloads, engine.NewDownload(n, gf.output, relPath))
	}

	return runPool(ctx, cfg, client, logger, downloads)
}

// collectFiles appends n (if a file) or its descendant files (if a folder)
// to out, walking the tree depth-first.
func collectFiles(tree *mega.NodeTree, n *mega.Node, out *[]*mega.Node) {
	if n.Kind == mega.KindFile {
		*out = append(*out, n)
		return
	}
	for _, child := range tree.Children(n.Handle) {
		collectFiles(tree, child, out)
	}
}

// runPool submits downloads to a Pool, streams its events to the logger,
// and returns once every download has reached a terminal state or ctx is
// cancelled (spec §4.7, §4.8).
func runPool(ctx context.Context, cfg mega.Config, client *mega.Client, logger zerolog.Logger, downloads []*engine.Download) error {
	metrics := engine.NewMetrics(nil)
	pool := engine.NewPool(cfg, client, logger, metrics)

	poolCtx, poolCancel := context.WithCancel(ctx)
	defer poolCancel()

	runDone := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(runDone)
	}()

	for _, dl := range downloads {
		pool.Submit(dl)
	}

	total := len(downloads)
	finished := 0
	cancelledOnce := false
	var failures []error

loop:
	for {
		select {
		case ev, ok := <-pool.Events():
			if !ok {
				break loop
			}
			switch ev.Type {
			case engine.EventActive:
				logger.Info().Str("file", ev.Download.RelPath).Msg("starting")
			case engine.EventInactive:
				finished++
				switch ev.Download.State() {
				case engine.StateDone:
					logger.Info().Str("file", ev.Download.RelPath).Msg("done")
				case engine.StateCancelled:
					logger.Warn().Str("file", ev.Download.RelPath).Msg("cancelled")
				case engine.StateFailed:
					failures = append(failures, fmt.Errorf("%s: %w", ev.Download.RelPath, ev.Download.LastError()))
				}
				if finished >= total {
					poolCancel()
				}
			case engine.EventError:
				logger.Error().Err(ev.Err).Str("file", ev.Download.RelPath).Msg("download failed")
			case engine.EventFinished:
				break loop
			}
		case <-ctx.Done():
			if !cancelledOnce {
				cancelledOnce = true
				pool.CancelAll()
			}
		}
	}

	<-runDone
	pool.Shutdown()

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d downloads failed: %w", len(failures), total, failures[0])
	}
	return ctx.Err()
}
