package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/internal/checkout"
	"orderbot/internal/driver"
	"orderbot/internal/driver/htmldriver"
	"orderbot/internal/failure"
	"orderbot/internal/order"
	"orderbot/internal/session"
	"orderbot/internal/settle"
	"orderbot/internal/storefront/toast"
)

const root = "https://shop.test/pho"

const menuPage = `<ul><li data-testid="menu-groups">
  <h3 data-testid="menu-group-name">Soups</h3>
  <a data-testid="menu-item-link" href="/pho/item-pho"><span data-testid="menu-item-name">Pho Tai</span>
    <span data-testid="menu-item-price"><span>$13.00</span></span></a>
</li></ul>`

const detailPage = `<div id="modal-root">
  <fieldset data-testid="fieldset-group"><textarea id="specialInstructions"></textarea></fieldset>
  <button data-testid="increment">+</button>
  <button data-testid="add-to-cart-button">Add</button>
</div>`

const checkoutPage = `<form>
  <input id="customer_first_name">
  <iframe data-testid="credit-card-iframe" srcdoc="<input id='credit_card_number'>"></iframe>
  <button id="submit-button">Place order</button>
</form>`

func testPolicy() settle.Policy {
	clock := settle.NewFakeClock(time.Unix(0, 0))
	clock.AutoAdvance = true
	return settle.Policy{Timeout: time.Second, Clock: clock}
}

func newSite() *htmldriver.Site {
	site := htmldriver.NewSite().
		Add(root, menuPage).
		Add(root+"/item-pho", detailPage).
		Add(root+"/checkout", checkoutPage).
		Add(root+"/confirmation", `<h1>Thanks</h1>`)
	site.OnClick("#submit-button", func(p *htmldriver.Page, _ *goquery.Selection) error {
		return p.Load(root + "/confirmation")
	})
	return site
}

func testOptions(t *testing.T, site *htmldriver.Site) Options {
	t.Helper()
	p := toast.Preset()
	p.Name = "pho"
	p.URL = root
	a, err := toast.New(p, testPolicy())
	require.NoError(t, err)

	return Options{
		Adapter: a,
		NewPage: func(context.Context) (driver.Driver, func(), error) {
			return site.NewPage(), func() {}, nil
		},
		Session: session.Options{
			OnItemFailure: session.Abort,
			Checkout:      checkout.Info{FirstName: "Kim", CardNumber: "4111"},
		},
	}
}

func TestRunIndependentJobs(t *testing.T) {
	site := newSite()
	opts := testOptions(t, site)

	var mu sync.Mutex
	var started []string
	opts.Started = func(j Job) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, j.Name)
	}

	jobs := []Job{
		{Name: "alice", Requests: []order.Request{{ItemName: "Pho Tai", Quantity: 1}}},
		{Name: "bob", Requests: []order.Request{{ItemName: "Bun Cha", Quantity: 1}}},
		{Name: "carol", Requests: []order.Request{{ItemName: "Pho Tai", Quantity: 2, Note: "extra basil"}}},
	}
	results, err := Run(context.Background(), jobs, opts)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, started)
	assert.Equal(t, 2, Succeeded(results))

	assert.Equal(t, "alice", results[0].Job.Name)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, checkout.Confirmed, results[0].Report.Checkout.Final())

	assert.Equal(t, failure.ItemNotFound, failure.CodeOf(results[1].Err))
	require.NotNil(t, results[1].Report)
	assert.Nil(t, results[1].Report.Checkout)

	assert.NoError(t, results[2].Err)
	assert.Equal(t, 2, site.Count(htmldriver.EventClick, "#submit-button"))
}

func TestRunPageFailure(t *testing.T) {
	opts := testOptions(t, newSite())
	opts.NewPage = func(context.Context) (driver.Driver, func(), error) {
		return nil, nil, errors.New("no tabs left")
	}

	results, err := Run(context.Background(), []Job{{Name: "alice"}}, opts)
	require.NoError(t, err)
	assert.ErrorContains(t, results[0].Err, "no tabs left")
	assert.Nil(t, results[0].Report)
}

func TestRunWaitsForStart(t *testing.T) {
	start := time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
	clock := settle.NewFakeClock(start)
	clock.AutoAdvance = true

	site := newSite()
	opts := testOptions(t, site)
	opts.Clock = clock
	opts.StartAt = start.Add(90 * time.Second)
	opts.UpdateEvery = time.Minute

	var waited []time.Duration
	opts.Waiting = func(d time.Duration) {
		waited = append(waited, d)
		assert.Zero(t, site.Interactions(), "session started before the start time")
	}

	results, err := Run(context.Background(), []Job{{Name: "alice", Requests: []order.Request{{ItemName: "Pho Tai", Quantity: 1}}}}, opts)
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []time.Duration{30 * time.Second}, waited)
}

func TestRunRequiresFailurePolicy(t *testing.T) {
	opts := testOptions(t, newSite())
	opts.Session.OnItemFailure = ""
	_, err := Run(context.Background(), nil, opts)
	assert.Error(t, err)
}

func TestLoadJobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bob.json5"), []byte(`[
		// late lunch
		{menuItem: {name: "Pho Tai"}, quantity: 1},
	]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte(`[{"menuItem": {"name": "Bun Cha"}, "quantity": 2}]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	jobs, err := LoadJobs(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "alice", jobs[0].Name)
	assert.Equal(t, "Bun Cha", jobs[0].Requests[0].ItemName)
	assert.Equal(t, "bob", jobs[1].Name)
	assert.Equal(t, 1, jobs[1].Requests[0].Quantity)
}
