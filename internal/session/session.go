// Package session runs one storefront session end to end: sign in if
// needed, open the storefront, pass its gates, scrape the menu once, add
// each order request in turn and check out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderbot/internal/checkout"
	"orderbot/internal/composer"
	"orderbot/internal/driver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/order"
	"orderbot/internal/scraper"
	"orderbot/internal/storefront"
)

var tracer = otel.Tracer("orderbot/internal/session")

// FailurePolicy decides what happens to the rest of a session after one
// order request fails.
type FailurePolicy string

const (
	// Abort stops the session; nothing is checked out.
	Abort FailurePolicy = "abort"
	// Skip moves on to the next request and checks out whatever succeeded.
	Skip FailurePolicy = "skip"
)

// ParseFailurePolicy rejects anything but "abort" and "skip". There is no
// default.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case Abort, Skip:
		return p, nil
	case "":
		return "", errors.New("on_item_failure must be set to abort or skip")
	default:
		return "", fmt.Errorf("on_item_failure: unknown policy %q (want abort or skip)", s)
	}
}

type Options struct {
	OnItemFailure FailurePolicy
	Checkout      checkout.Info
	// DryRun fills the checkout page without submitting it.
	DryRun bool
	Scrape scraper.Options
	Logger *slog.Logger
}

// Outcome is the result of one order request. Err is nil on success.
type Outcome struct {
	Request order.Request
	Err     error
}

// Report is everything a session did, for logging and history.
type Report struct {
	ID         uuid.UUID
	Storefront string
	StartedAt  time.Time
	FinishedAt time.Time
	Menu       *menu.Menu
	Issues     []scraper.Issue
	Outcomes   []Outcome
	Checkout   *checkout.Result
	Err        error
}

// Ordered counts requests that reached the cart.
func (r *Report) Ordered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Session owns one page for its whole life. Its methods may be called from
// several goroutines; they take turns on the page.
type Session struct {
	adapter storefront.Adapter
	page    driver.Driver
	opts    Options
	log     *slog.Logger

	scraper  *scraper.Scraper
	composer *composer.Composer
	checkout *checkout.Flow

	mu       sync.Mutex
	signedIn bool
}

func New(a storefront.Adapter, page driver.Driver, opts Options) (*Session, error) {
	if _, err := ParseFailurePolicy(string(opts.OnItemFailure)); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	scrapeOpts := opts.Scrape
	scrapeOpts.Logger = log
	flow := checkout.New(a, log)
	flow.DryRun = opts.DryRun
	return &Session{
		adapter:  a,
		page:     page,
		opts:     opts,
		log:      log.With("storefront", a.Name()),
		scraper:  scraper.New(a, scrapeOpts),
		composer: composer.New(a, log),
		checkout: flow,
	}, nil
}

// Scrape opens the storefront and reads its menu without ordering. An
// unavailable storefront is still scraped.
func (s *Session) Scrape(ctx context.Context) (*scraper.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	banner, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if banner != "" {
		s.log.Warn("storefront is not taking orders", "banner", banner)
	}
	return s.scraper.Scrape(ctx, s.page)
}

// Run orders every request and checks out. The report is always returned;
// the error is the report's terminal error.
func (s *Session) Run(ctx context.Context, requests []order.Request) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{ID: uuid.New(), Storefront: s.adapter.Name(), StartedAt: time.Now()}
	ctx, span := tracer.Start(ctx, "session.Run", withAttrs(report, len(requests)))
	log := s.log.With("session", report.ID.String())

	err := s.run(ctx, log, report, requests)
	report.Err = err
	report.FinishedAt = time.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("session failed", "err", err, "ordered", report.Ordered(), "requests", len(requests))
	} else {
		log.Info("session finished", "ordered", report.Ordered(), "requests", len(requests))
	}
	span.End()
	return report, err
}

func (s *Session) run(ctx context.Context, log *slog.Logger, report *Report, requests []order.Request) error {
	banner, err := s.open(ctx)
	if err != nil {
		return err
	}
	if banner != "" {
		return failure.Wrap(failure.Unavailable, "open storefront", errors.New(banner))
	}

	res, err := s.scraper.Scrape(ctx, s.page)
	if err != nil {
		return fmt.Errorf("scrape menu: %w", err)
	}
	report.Menu = res.Menu
	report.Issues = res.Issues

	for i, req := range requests {
		err := s.composer.AddToCart(ctx, s.page, res.Menu, req)
		report.Outcomes = append(report.Outcomes, Outcome{Request: req, Err: err})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.opts.OnItemFailure == Abort {
			return fmt.Errorf("order %d of %d (%s): %w", i+1, len(requests), req, err)
		}
		log.Warn("order request failed, continuing", "request", req.String(), "err", err)
		if cerr := s.adapter.CloseDetail(ctx, s.page); cerr != nil {
			log.Debug("close detail after failure", "err", cerr)
		}
	}
	if report.Ordered() == 0 {
		return failure.New(failure.NothingOrdered, "checkout")
	}

	result, err := s.checkout.Run(ctx, s.page, s.opts.Checkout)
	report.Checkout = result
	return err
}

// open signs in when needed, loads the storefront root, dismisses the
// fulfillment interstitial and returns the unavailable banner text if any.
func (s *Session) open(ctx context.Context) (string, error) {
	if s.adapter.NeedsLogin() && !s.signedIn {
		if err := s.adapter.Authenticate(ctx, s.page); err != nil {
			return "", fmt.Errorf("sign in: %w", err)
		}
		s.signedIn = true
	}
	if err := s.visitRoot(ctx); err != nil {
		return "", err
	}
	passed, err := storefront.PassGate(ctx, s.adapter, s.page)
	if err != nil {
		return "", fmt.Errorf("fulfillment gate: %w", err)
	}
	if passed {
		s.log.Info("dismissed fulfillment time prompt")
		if err := s.visitRoot(ctx); err != nil {
			return "", err
		}
	}
	banner, _, err := storefront.Unavailable(ctx, s.adapter, s.page)
	return banner, err
}

func (s *Session) visitRoot(ctx context.Context) error {
	root := s.adapter.RootURL()
	if err := s.page.Navigate(ctx, root); err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}
	if err := s.adapter.Policy().Wait(ctx, s.page); err != nil {
		return failure.Wrap(failure.Timeout, "open storefront", err)
	}
	return nil
}

func withAttrs(r *Report, requests int) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("session.id", r.ID.String()),
		attribute.String("session.storefront", r.Storefront),
		attribute.Int("session.requests", requests),
	)
}
