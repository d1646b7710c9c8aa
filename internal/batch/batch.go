// Package batch runs one ordering session per order file, concurrently,
// each on its own page.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"orderbot/internal/order"
	"orderbot/internal/schedule"
	"orderbot/internal/scraper"
	"orderbot/internal/session"
	"orderbot/internal/settle"
	"orderbot/internal/storefront"
)

// Job is the requests of one order file.
type Job struct {
	Name     string
	Requests []order.Request
}

// LoadJobs reads a single order file or every order file in a directory.
func LoadJobs(path string) ([]Job, error) {
	files, err := order.Files(path)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(files))
	for _, f := range files {
		requests, err := order.LoadFile(f)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		jobs = append(jobs, Job{Name: name, Requests: requests})
	}
	return jobs, nil
}

type Options struct {
	Adapter storefront.Adapter
	// NewPage opens the page each session runs on. Every call must return
	// a page that shares no cookies or storage with the others.
	NewPage scraper.PageFactory
	Session session.Options

	// Parallel bounds concurrent sessions. Zero means all at once.
	Parallel int

	// StartAt delays every session until the given time.
	StartAt     time.Time
	Clock       settle.Clock
	UpdateEvery time.Duration
	// Waiting is called with the remaining time while waiting for StartAt.
	Waiting func(remaining time.Duration)

	// Started and Finished are called from the session goroutines.
	Started  func(job Job)
	Finished func(Result)

	Logger *slog.Logger
}

// Result is the outcome of one job. Report is nil when the session could
// not be started.
type Result struct {
	Job    Job
	Report *session.Report
	Err    error
}

// Run waits for StartAt, then runs every job. It returns one result per job
// in job order; a failing job does not stop the others. The error is only
// set when the run as a whole could not proceed.
func Run(ctx context.Context, jobs []Job, opts Options) ([]Result, error) {
	if opts.Adapter == nil || opts.NewPage == nil {
		return nil, fmt.Errorf("batch: adapter and page factory are required")
	}
	if _, err := session.ParseFailurePolicy(string(opts.Session.OnItemFailure)); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if !opts.StartAt.IsZero() {
		log.Info("waiting for start time", "start", opts.StartAt.UTC().Format(time.RFC3339))
		if err := schedule.WaitUntil(ctx, opts.Clock, opts.StartAt, opts.UpdateEvery, opts.Waiting); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = runJob(gctx, job, opts, log.With("job", job.Name))
			if opts.Finished != nil {
				opts.Finished(results[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func runJob(ctx context.Context, job Job, opts Options, log *slog.Logger) Result {
	res := Result{Job: job}

	page, closePage, err := opts.NewPage(ctx)
	if err != nil {
		res.Err = fmt.Errorf("open page for %s: %w", job.Name, err)
		log.Error("could not open page", "err", err)
		return res
	}
	defer closePage()

	sessOpts := opts.Session
	sessOpts.Logger = log
	s, err := session.New(opts.Adapter, page, sessOpts)
	if err != nil {
		res.Err = err
		return res
	}

	if opts.Started != nil {
		opts.Started(job)
	}
	res.Report, res.Err = s.Run(ctx, job.Requests)
	return res
}

// Succeeded counts results without an error.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}
