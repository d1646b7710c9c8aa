// Package checkout fills identity and payment fields, submits the order and
// follows at most one re-authentication detour.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orderbot/internal/driver"
	"orderbot/internal/failure"
	"orderbot/internal/storefront"
)

var tracer = otel.Tracer("orderbot/internal/checkout")

type State string

const (
	Start          State = "start"
	IdentityFilled State = "identity_filled"
	PaymentFilled  State = "payment_filled"
	Submitted      State = "submitted"
	ReauthRequired State = "reauth_required"
	Confirmed      State = "confirmed"
)

// Info is the caller's identity and payment input. Values are opaque; an
// empty value leaves its field untouched.
type Info struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`

	CardNumber     string `yaml:"-"`
	CardExpiry     string `yaml:"-"`
	CardCVC        string `yaml:"-"`
	CardPostalCode string `yaml:"-"`

	Tip string `yaml:"tip"`
}

// Result records every state the flow passed through, in order.
type Result struct {
	States []State
	URL    string
}

// Final is the last state reached.
func (r *Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

func (r *Result) enter(s State) { r.States = append(r.States, s) }

type Flow struct {
	adapter storefront.Adapter
	log     *slog.Logger
	// DryRun stops after payment is filled, before submitting.
	DryRun bool
}

func New(a storefront.Adapter, log *slog.Logger) *Flow {
	if log == nil {
		log = slog.Default()
	}
	return &Flow{adapter: a, log: log.With("storefront", a.Name())}
}

type field struct {
	name     string
	selector string
	value    string
}

// Run drives the checkout page on d. The returned Result is non-nil even
// on failure and shows how far the flow got.
func (f *Flow) Run(ctx context.Context, d driver.Driver, info Info) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Run")
	res = &Result{}
	defer func() {
		span.SetAttributes(attribute.String("checkout.state", string(res.Final())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res.enter(Start)
	if u := f.adapter.CheckoutURL(); u != "" {
		if err := d.Navigate(ctx, u); err != nil {
			return res, fmt.Errorf("open checkout: %w", err)
		}
		if err := f.adapter.Policy().Wait(ctx, d); err != nil {
			return res, failure.Wrap(failure.Timeout, "open checkout", err)
		}
	}

	sel := f.adapter.Selectors().Checkout
	if err := f.fill(ctx, d, "fill identity", []field{
		{"first_name", sel.FirstName, info.FirstName},
		{"last_name", sel.LastName, info.LastName},
		{"email", sel.Email, info.Email},
		{"phone", sel.Phone, info.Phone},
	}); err != nil {
		return res, err
	}
	res.enter(IdentityFilled)

	if err := f.fillPayment(ctx, d, info); err != nil {
		return res, err
	}
	res.enter(PaymentFilled)

	if f.DryRun {
		f.log.Info("dry run, not submitting")
		return res, nil
	}

	reauthed := false
	for {
		if err := f.submit(ctx, d); err != nil {
			return res, err
		}
		res.enter(Submitted)

		u, err := d.URL(ctx)
		if err != nil {
			return res, err
		}
		res.URL = u
		if !f.adapter.IsReauthURL(u) {
			break
		}
		if reauthed {
			return res, failure.Wrap(failure.ReauthFailed, "submit", fmt.Errorf("sent back to %s after signing in", u))
		}
		reauthed = true
		res.enter(ReauthRequired)
		f.log.Info("session expired at checkout, signing in again", "url", u)
		if err := f.adapter.Authenticate(ctx, d); err != nil {
			return res, failure.Wrap(failure.ReauthFailed, "re-authenticate", err)
		}
	}

	res.enter(Confirmed)
	f.log.Info("order submitted", "url", res.URL)
	return res, nil
}

func (f *Flow) fillPayment(ctx context.Context, d driver.Driver, info Info) error {
	sel := f.adapter.Selectors().Checkout
	var scope driver.Scope = d
	if sel.PaymentFrame != "" {
		frameEl, err := d.Query(ctx, sel.PaymentFrame)
		if errors.Is(err, driver.ErrNotFound) {
			return failure.New(failure.PaymentFrameMissing, "fill payment")
		}
		if err != nil {
			return failure.Wrap(failure.PaymentFrameMissing, "fill payment", err)
		}
		if scope, err = frameEl.Frame(ctx); err != nil {
			return failure.Wrap(failure.PaymentFrameMissing, "fill payment", err)
		}
	}
	if err := f.fill(ctx, scope, "fill payment", []field{
		{"card_number", sel.CardNumber, info.CardNumber},
		{"card_expiry", sel.CardExpiry, info.CardExpiry},
		{"card_cvc", sel.CardCVC, info.CardCVC},
		{"card_postal_code", sel.CardPostalCode, info.CardPostalCode},
	}); err != nil {
		return err
	}
	return f.fill(ctx, d, "fill tip", []field{{"tip", sel.Tip, info.Tip}})
}

// fill types each value into its field, strictly one after another.
func (f *Flow) fill(ctx context.Context, scope driver.Scope, step string, fields []field) error {
	for _, fl := range fields {
		if fl.selector == "" || fl.value == "" {
			continue
		}
		el, err := scope.Query(ctx, fl.selector)
		if errors.Is(err, driver.ErrNotFound) {
			return failure.New(failure.FieldMissing, step+" "+fl.name)
		}
		if err == nil {
			err = el.Type(ctx, fl.value)
		}
		if err != nil {
			return failure.Wrap(failure.FieldMissing, step+" "+fl.name, err)
		}
	}
	return nil
}

// submit waits for the submit control to become enabled, clicks it and
// waits for the navigation it triggers.
func (f *Flow) submit(ctx context.Context, d driver.Driver) error {
	selector := f.adapter.Selectors().Checkout.Submit
	if selector == "" {
		return failure.New(failure.SubmitFailed, "submit")
	}
	policy := f.adapter.Policy()

	var btn driver.Element
	err := policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		el, err := d.Query(ctx, selector)
		if errors.Is(err, driver.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		enabled, err := el.Enabled(ctx)
		if enabled {
			btn = el
		}
		return enabled, err
	})
	if err != nil {
		return failure.Wrap(failure.SubmitFailed, "wait for submit", err)
	}

	waitCtx, cancel := policy.WithTimeout(ctx)
	defer cancel()
	wait := d.WaitNavigation(waitCtx)
	if err := btn.Click(ctx); err != nil {
		return failure.Wrap(failure.SubmitFailed, "submit", err)
	}
	if err := wait(); err != nil {
		return failure.Wrap(failure.SubmitFailed, "wait for confirmation", err)
	}
	return nil
}
