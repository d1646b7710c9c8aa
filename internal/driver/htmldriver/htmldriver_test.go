package htmldriver

import (
	"context"
	"regexp"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/internal/driver"
)

const cartPage = `<html><body>
  <h1 id="title">  Cart
  </h1>
  <ul><li class="line">Pad Thai</li><li class="line">Spring Rolls</li></ul>
  <button data-testid="checkout" disabled>Checkout</button>
  <button aria-label="Remove">x</button>
  <input id="promo">
  <iframe id="pay" srcdoc="<input id='number'>"></iframe>
  <div class="banner">Online Ordering Closed</div>
</body></html>`

func TestQueryAndText(t *testing.T) {
	ctx := context.Background()
	p, err := FromHTML("https://shop.test/cart", cartPage)
	require.NoError(t, err)

	title, err := driver.TextOf(ctx, p, "#title")
	require.NoError(t, err)
	assert.Equal(t, "Cart", title)

	missing, err := driver.TextOf(ctx, p, "#nope")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = p.Query(ctx, "#nope")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	lines, err := p.QueryAll(ctx, "li.line")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	text, err := lines[1].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Spring Rolls", text)

	banner, err := p.QueryByText(ctx, "div", regexp.MustCompile(`^Online Ordering (Unavailable|Closed)$`))
	require.NoError(t, err)
	cls, ok, err := banner.Attribute(ctx, "class")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "banner", cls)

	has, err := driver.Has(ctx, p, `[data-testid="checkout"]`)
	require.NoError(t, err)
	assert.True(t, has)

	btn, err := p.Query(ctx, `[data-testid="checkout"]`)
	require.NoError(t, err)
	enabled, err := btn.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestClickHandlersAndLog(t *testing.T) {
	ctx := context.Background()
	site := NewSite().
		Add("https://shop.test/cart", cartPage).
		Add("https://shop.test/done", `<p>done</p>`)
	site.OnClick(`[aria-label="Remove"]`, func(p *Page, _ *goquery.Selection) error {
		p.Doc().Find("li.line").First().Remove()
		return nil
	})
	site.OnClick("#title", func(p *Page, _ *goquery.Selection) error {
		return p.Load("https://shop.test/done")
	})

	p, err := site.Open(ctx, "https://shop.test/cart")
	require.NoError(t, err)

	remove, err := p.Query(ctx, `[aria-label="Remove"]`)
	require.NoError(t, err)
	require.NoError(t, remove.Click(ctx))
	lines, err := p.QueryAll(ctx, "li.line")
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	promo, err := p.Query(ctx, "#promo")
	require.NoError(t, err)
	require.NoError(t, promo.Type(ctx, "LUNCH10"))
	assert.Equal(t, "LUNCH10", p.Value("#promo"))

	wait := p.WaitNavigation(ctx)
	title, err := p.Query(ctx, "#title")
	require.NoError(t, err)
	require.NoError(t, title.Click(ctx))
	require.NoError(t, wait())
	u, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/done", u)

	assert.Equal(t, []Event{
		{Kind: EventNavigate, Target: "https://shop.test/cart"},
		{Kind: EventClick, Target: `[aria-label="Remove"]`},
		{Kind: EventType, Target: "#promo", Value: "LUNCH10"},
		{Kind: EventClick, Target: "#title"},
	}, site.Log())
	assert.Equal(t, 4, site.Interactions())
}

func TestWaitNavigationWithoutNavigation(t *testing.T) {
	p, err := FromHTML("https://shop.test/cart", cartPage)
	require.NoError(t, err)
	err = p.WaitNavigation(context.Background())()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedirectOnce(t *testing.T) {
	ctx := context.Background()
	site := NewSite().
		Add("https://shop.test", `<p>menu</p>`).
		Add("https://shop.test/?mode=fulfillment", `<button>Order later</button>`).
		RedirectOnce("https://shop.test", "https://shop.test/?mode=fulfillment")
	p := site.NewPage()

	require.NoError(t, p.Navigate(ctx, "https://shop.test"))
	u, _ := p.URL(ctx)
	assert.Equal(t, "https://shop.test/?mode=fulfillment", u)

	require.NoError(t, p.Navigate(ctx, "https://shop.test/"))
	u, _ = p.URL(ctx)
	assert.Equal(t, "https://shop.test/", u)
	assert.Error(t, p.Navigate(ctx, "https://elsewhere.test"))
}

func TestFrame(t *testing.T) {
	ctx := context.Background()
	p, err := FromHTML("https://shop.test/cart", cartPage)
	require.NoError(t, err)

	el, err := p.Query(ctx, "#pay")
	require.NoError(t, err)
	frame, err := el.Frame(ctx)
	require.NoError(t, err)
	number, err := frame.Query(ctx, "#number")
	require.NoError(t, err)
	require.NoError(t, number.Type(ctx, "4111"))

	again, err := el.Frame(ctx)
	require.NoError(t, err)
	assert.Same(t, frame, again)

	notFrame, err := p.Query(ctx, "#promo")
	require.NoError(t, err)
	_, err = notFrame.Frame(ctx)
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	p, err := FromHTML("https://shop.test/cart", cartPage)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Query(ctx, "#title")
	assert.ErrorIs(t, err, context.Canceled)
}
