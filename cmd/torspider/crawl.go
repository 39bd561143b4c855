package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/torspider/internal/config"
	"github.com/nao1215/torspider/internal/crawler"
	"github.com/nao1215/torspider/internal/database"
	"github.com/nao1215/torspider/internal/log"
	"github.com/nao1215/torspider/internal/pipeline"
	"github.com/nao1215/torspider/internal/report"
	"github.com/nao1215/torspider/internal/tor"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url]",
		Short: "Crawl a hidden service and record its links",
		Long: `Crawl fetches the seed URL through Tor, follows its internal links up to
the depth budget and records every page and linked domain in the database.

The links found are written to intlinks.txt, extlinks.txt, domains.txt and
onions.txt in the summary directory, replacing the previous run's files.

Without a seed URL, crawl first visits the seeds of the configuration file
and then every domain already stored in the database, several at a time.
Unreachable domains are marked offline and skipped.

Examples:
  # Crawl a single hidden service two levels deep
  torspider crawl -d 2 http://exampleonion.onion/

  # Resume from the database with 10 workers
  torspider crawl -w 10

  # Start a private Tor daemon instead of using 127.0.0.1:9050
  torspider crawl --embedded-tor http://exampleonion.onion/

  # Also write summary.md with mermaid charts
  torspider crawl -m -o ./out http://exampleonion.onion/`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCrawlCmd,
	}

	// Tor connection flags
	cmd.Flags().StringP("proxy", "p", config.DefaultProxyAddress,
		"Tor SOCKS5 proxy address")
	cmd.Flags().BoolP("embedded-tor", "e", false,
		"Start an embedded Tor daemon instead of using --proxy")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().Bool("skip-ip-check", false,
		"Do not verify that traffic leaves through Tor")
	cmd.Flags().String("ip-check-url", config.DefaultIPCheckURL,
		"Service that echoes the caller's public IP address")

	// Crawl behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().IntP("depth", "d", config.DefaultDepth,
		"How many levels of internal links to follow")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of domains crawled in parallel when resuming")
	cmd.Flags().StringP("user-agent", "A", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum number of bytes read from a response")
	cmd.Flags().Bool("include-images", false,
		"Treat <img src> as links")

	// Storage and output flags
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the graph database")
	cmd.Flags().StringP("summary-dir", "o", config.DefaultSummaryDir,
		"Directory of the link summary files")
	cmd.Flags().BoolP("markdown-summary", "m", false,
		"Also write summary.md to the summary directory")
	cmd.Flags().Bool("no-default-seeds", false,
		"Do not add the built-in directory seeds to a new database")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .torspider in current or home directory)")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, cmd.OutOrStdout(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getJSONLogFlag retrieves the json-log flag from the command or its parent.
func getJSONLogFlag(cmd *cobra.Command) bool {
	jsonLog, err := cmd.Flags().GetBool("json-log")
	if err != nil {
		jsonLog, err = cmd.Root().PersistentFlags().GetBool("json-log")
		if err != nil {
			return false
		}
	}
	return jsonLog
}

// buildConfig creates a Config from cobra command flags and the
// configuration file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error

	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseEmbeddedTor, err = flags.GetBool("embedded-tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.SkipIPCheck, err = flags.GetBool("skip-ip-check"); err != nil {
		return nil, err
	}
	if cfg.IPCheckURL, err = flags.GetString("ip-check-url"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.Depth, err = flags.GetInt("depth"); err != nil {
		return nil, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	if cfg.IncludeImages, err = flags.GetBool("include-images"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	if cfg.SummaryDir, err = flags.GetString("summary-dir"); err != nil {
		return nil, err
	}
	if cfg.MarkdownSummary, err = flags.GetBool("markdown-summary"); err != nil {
		return nil, err
	}
	if cfg.NoDefaultSeeds, err = flags.GetBool("no-default-seeds"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.JSONLog = getJSONLogFlag(cmd)

	// An explicitly given config file must exist; the default one is optional.
	if path := config.FindConfigFile(cfg.ConfigFilePath); path != "" {
		cfg.SiteConfigs, err = config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	if len(args) > 0 {
		cfg.Seed = args[0]
	}
	return cfg, nil
}

// setupLogger creates the secure logger selected by the verbose and
// json-log flags.
func setupLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	if cfg.JSONLog {
		return log.NewSecureJSONLogger(w, cfg.Verbose)
	}
	return log.NewSecureLogger(w, cfg.Verbose)
}

// runCrawl opens the database, connects to Tor and runs either the single
// seed crawl or the resume crawl.
func runCrawl(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	opts := database.DefaultOptions()
	opts.Logger = logger
	db, err := database.Open(cfg.DBDir, opts)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Debug("database opened", "path", db.Path())

	if !cfg.NoDefaultSeeds {
		n, err := db.SeedDefaults(ctx, database.DefaultSeeds)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("new database seeded", "seeds", n)
		}
	}

	client, stop, err := connectTor(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer stop()

	if !cfg.SkipIPCheck {
		ip, err := tor.VerifyAnonymity(ctx, tor.NewDirectHTTPClient(cfg.Timeout), client.NewHTTPClient(), cfg.IPCheckURL)
		if err != nil {
			return err
		}
		logger.Info("traffic is routed through Tor", "exitIP", ip)
	}

	s := newSession(cfg, db, client.HTTPClientWithConfig, out, logger)
	if cfg.Seed != "" {
		return s.crawlSeed(ctx, cfg.Seed)
	}
	return s.resume(ctx)
}

// connectTor returns a client for the configured proxy, starting the
// embedded daemon if asked to. The returned func releases the daemon.
func connectTor(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*tor.Client, func(), error) {
	if !cfg.UseEmbeddedTor {
		client, err := tor.NewClient(cfg.ProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
			return nil, nil, fmt.Errorf("tor proxy check failed: %w (make sure Tor is running at %s)",
				status.Error(), cfg.ProxyAddress)
		}
		logger.Info("Tor proxy connection verified", "address", cfg.ProxyAddress)
		return client, func() {}, nil
	}

	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps.\n\n")

	embedded := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	stop := func() {
		logger.Info("stopping embedded Tor daemon...")
		if err := embedded.Stop(); err != nil {
			logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
	logger.Info("embedded Tor daemon started", "socksAddr", embedded.SocksAddr())

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		stop()
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %w", status.Error())
	}
	return client, stop, nil
}

// httpClientFunc builds the HTTP client for one site.
type httpClientFunc func(userAgent, cookie string, headers map[string]string) *http.Client

// session holds what every crawl of one invocation shares.
type session struct {
	cfg        *config.Config
	db         *database.GraphDB
	crawlerFor pipeline.CrawlerFunc
	reporters  []pipeline.Reporter
	logger     *slog.Logger
}

func newSession(cfg *config.Config, db *database.GraphDB, newClient httpClientFunc, out io.Writer, logger *slog.Logger) *session {
	reporters := []pipeline.Reporter{
		report.NewFileWriter(cfg.SummaryDir),
		report.NewSimpleWriter(out),
	}
	if cfg.MarkdownSummary {
		reporters = append(reporters, report.NewMarkdownWriter(cfg.SummaryDir))
	}
	return &session{
		cfg:        cfg,
		db:         db,
		crawlerFor: newCrawlerFunc(cfg, newClient, logger),
		reporters:  reporters,
		logger:     logger,
	}
}

// newCrawlerFunc returns a CrawlerFunc that applies the site settings of
// each domain: cookie, headers and depth.
func newCrawlerFunc(cfg *config.Config, newClient httpClientFunc, logger *slog.Logger) pipeline.CrawlerFunc {
	extractor := crawler.NewExtractor(crawler.WithImageSources(cfg.IncludeImages))
	return func(domain string) pipeline.Crawler {
		site := cfg.Site(domain)
		transport := tor.NewTransport(
			newClient(cfg.UserAgent, site.Cookie, site.Headers),
			tor.WithUserAgent(cfg.UserAgent),
			tor.WithMaxBodySize(cfg.MaxBodySize),
		)
		return crawler.NewSpider(transport,
			crawler.WithMaxDepth(cfg.DepthFor(domain)),
			crawler.WithExtractor(extractor),
			crawler.WithSpiderLogger(logger.With("domain", domain)),
		)
	}
}

func (s *session) newPipeline() *pipeline.Pipeline {
	p := pipeline.New(pipeline.WithLogger(s.logger))
	p.AddSteps(
		pipeline.NewCrawlStep(s.crawlerFor, s.db, s.logger),
		pipeline.NewPersistStep(s.db, s.logger),
		pipeline.NewReportStep(s.reporters...),
	)
	return p
}

// crawlSeed runs one top-level crawl. Any failure, including an
// unreachable seed, is returned.
func (s *session) crawlSeed(ctx context.Context, seed string) error {
	job := pipeline.NewJob(seed)
	if err := s.newPipeline().Execute(ctx, job); err != nil {
		return err
	}
	s.logger.Info("crawl recorded",
		"seed", job.SeedURL,
		"pages", job.Stats.Pages,
		"newDomains", job.Stats.NewDomains,
		"newLinks", job.Stats.NewLinks,
	)
	return ctx.Err()
}

// resume crawls the configured seeds and then every known domain, each as an
// independent top-level crawl. Failed domains are logged and skipped; only
// cancellation ends the run with an error.
func (s *session) resume(ctx context.Context) error {
	targets, err := s.db.ListResumeTargets(ctx)
	if err != nil {
		return err
	}

	var seeds []string
	if s.cfg.SiteConfigs != nil {
		seeds = append(seeds, s.cfg.SiteConfigs.Seeds...)
	}
	for _, t := range targets {
		seeds = append(seeds, t.URL)
	}
	if len(seeds) == 0 {
		return errors.New("nothing to crawl: give a seed URL or add seeds to the configuration file")
	}

	bp := pipeline.NewBatchProcessor(s.newPipeline,
		pipeline.WithBatchLogger(s.logger),
		pipeline.WithConcurrency(s.cfg.Workers),
	)
	jobs, err := bp.ProcessBatch(ctx, seeds)

	var crawled, offline, failed int
	for _, job := range jobs {
		switch {
		case job.Err == nil:
			crawled++
		case job.Offline:
			offline++
		case errors.Is(job.Err, context.Canceled):
			// not started or cut short
		default:
			failed++
		}
	}
	s.logger.Info("resume finished",
		"domains", len(jobs),
		"crawled", crawled,
		"offline", offline,
		"failed", failed,
	)
	return err
}
