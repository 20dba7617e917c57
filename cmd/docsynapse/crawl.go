package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/config"
	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
	"github.com/JakeFAU/docsynapse-crawler/internal/server"
)

const pollInterval = 250 * time.Millisecond

type crawlFlags struct {
	maxPages int
	maxDepth int
	delay    float64
	timeout  int
	include  []string
	exclude  []string
	external bool
	noRobots bool
	engine   string
}

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one site in-process and write its document",
		Long: `Runs a single crawl job against the given base URL without starting the
HTTP service. Progress is printed as the job runs and the path of the
generated Markdown document is printed when it completes. Flags override
crawler.defaults from the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			crawlCfg := flags.apply(cmd, &cfg)
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], crawlCfg, opts.appOptions)
		},
	}

	flags.bind(cmd)
	return cmd
}

func (f *crawlFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.maxPages, "max-pages", 0, "maximum pages to crawl (1-10000)")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "maximum discovery depth (1-50)")
	fs.Float64Var(&f.delay, "delay", 0, "seconds between page fetches (0.1-10)")
	fs.IntVar(&f.timeout, "timeout", 0, "per-page timeout in seconds (5-120)")
	fs.StringSliceVar(&f.include, "include", nil, "regex a URL must match to be crawled (repeatable)")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "regex that excludes a URL (repeatable)")
	fs.BoolVar(&f.external, "external", false, "follow links to other hosts")
	fs.BoolVar(&f.noRobots, "no-robots", false, "ignore robots.txt")
	fs.StringVar(&f.engine, "engine", "", "browser engine override: chromedp or static")
}

// apply overlays the flags the user set on the configured defaults.
func (f *crawlFlags) apply(cmd *cobra.Command, cfg *config.Config) crawler.CrawlConfig {
	out := cfg.Crawler.Defaults.Clone()
	changed := cmd.Flags().Changed
	if changed("max-pages") {
		out.MaxPages = f.maxPages
	}
	if changed("max-depth") {
		out.MaxDepth = f.maxDepth
	}
	if changed("delay") {
		out.DelayBetweenRequests = f.delay
	}
	if changed("timeout") {
		out.Timeout = f.timeout
	}
	if changed("include") {
		out.IncludePatterns = f.include
	}
	if changed("exclude") {
		out.ExcludePatterns = f.exclude
	}
	if changed("external") {
		out.FollowExternalLinks = f.external
	}
	if changed("no-robots") {
		out.RespectRobots = !f.noRobots
	}
	if changed("engine") {
		cfg.Browser.Engine = f.engine
	}
	return out
}

func runCrawl(
	ctx context.Context,
	out io.Writer,
	cfg config.Config,
	baseURL string,
	crawlCfg crawler.CrawlConfig,
	appOptions []server.Option,
) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	app, err := server.Build(ctx, cfg, appOptions...)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace()+10*time.Second)
		defer cancel()
		err = errors.Join(err, app.Close(closeCtx))
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := app.Orchestrator()
	jobID, err := orch.StartJob(baseURL, crawlCfg)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	app.Logger().Info("crawl job started", zap.String("job_id", jobID), zap.String("url", baseURL))

	p := &printer{out: out}
	hub := app.Notifications()
	handle := hub.Connect(p)
	hub.Subscribe(handle, jobID)
	defer hub.Disconnect(handle)

	info, err := waitTerminal(ctx, orch, jobID)
	if err != nil {
		orch.CancelJob(context.Background(), jobID)
		return fmt.Errorf("crawl interrupted: %w", err)
	}

	switch info.Status {
	case crawler.JobStatusCompleted:
		result, err := orch.GetResult(jobID)
		if err != nil {
			return fmt.Errorf("load result: %w", err)
		}
		return p.printf("document: %s (%d pages, %d bytes)", result.GeneratedFile, len(result.Pages), result.FileSize)
	case crawler.JobStatusFailed:
		result, rerr := orch.GetResult(jobID)
		if rerr != nil {
			return errors.New("crawl failed")
		}
		return fmt.Errorf("crawl failed: %s", result.ErrorMessage)
	default:
		return fmt.Errorf("crawl ended with status %s", info.Status)
	}
}

type progressSource interface {
	GetProgress(jobID string) (crawler.ProgressInfo, error)
}

func waitTerminal(ctx context.Context, jobs progressSource, jobID string) (crawler.ProgressInfo, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		info, err := jobs.GetProgress(jobID)
		if err != nil {
			return crawler.ProgressInfo{}, err
		}
		if info.Status.Terminal() {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-ticker.C:
		}
	}
}

// printer renders job notifications as one line each.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) Send(_ context.Context, msg notify.Message) error {
	line := formatMessage(msg)
	if line == "" {
		return nil
	}
	return p.printf("%s", line)
}

func (p *printer) printf(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, format+"\n", args...)
	return err
}

func (p *printer) Close() error { return nil }

func formatMessage(msg notify.Message) string {
	switch msg.Type {
	case notify.TypeProgressUpdate:
		if msg.Progress == nil {
			return ""
		}
		pi := msg.Progress
		line := fmt.Sprintf("[%5.1f%%] %s discovered=%d crawled=%d", pi.ProgressPercentage, pi.Status, pi.PagesDiscovered, pi.PagesCrawled)
		if pi.CurrentURL != "" {
			line += " " + pi.CurrentURL
		}
		return line
	case notify.TypeStatusChange:
		return fmt.Sprintf("status: %s -> %s", msg.OldStatus, msg.NewStatus)
	case notify.TypeError:
		return fmt.Sprintf("error: %s: %s", msg.ErrorCode, msg.ErrorMessage)
	case notify.TypeCompletion:
		return "done: " + msg.Message
	default:
		return ""
	}
}
