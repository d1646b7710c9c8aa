package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/internal/driver"
	"orderbot/internal/driver/htmldriver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/settle"
	"orderbot/internal/storefront"
	"orderbot/internal/storefront/levelup"
	"orderbot/internal/storefront/toast"
)

const (
	toastRoot = "https://shop.test/taqueria"
	location  = "https://lu.test/locations/1"
)

func testPolicy() settle.Policy {
	clock := settle.NewFakeClock(time.Unix(0, 0))
	clock.AutoAdvance = true
	return settle.Policy{Timeout: time.Second, Clock: clock}
}

const toastMenu = `<ul>
<li data-testid="menu-groups">
  <h3 data-testid="menu-group-name">Mains</h3>
  <a data-testid="menu-item-link" href="/taqueria/item-burrito">
    <span data-testid="menu-item-name">Burrito</span>
    <p data-testid="menu-item-description">Big.</p>
    <span data-testid="menu-item-price"><span>$9.50</span></span>
  </a>
  <a data-testid="menu-item-link" href="/taqueria/item-taco">
    <span data-testid="menu-item-name">Taco</span>
    <span data-testid="menu-item-out-of-stock-label">Out of stock</span>
  </a>
  <a data-testid="menu-item-link" href="/taqueria/item-bowl">
    <span data-testid="menu-item-name">Bowl</span>
    <span data-testid="menu-item-price"><span>$11</span></span>
  </a>
</li>
<li data-testid="menu-groups">
  <h3 data-testid="menu-group-name">Drinks</h3>
  <a data-testid="menu-item-link" href="/taqueria/item-soda"><span data-testid="menu-item-name">Soda</span></a>
</li>
</ul>`

const toastBurrito = `<div id="modal-root">
  <div data-testid="modifier-image-url" style="background-image: url(&quot;https://img.test/burrito.jpg&quot;)"></div>
  <fieldset data-testid="fieldset-group">
    <div data-testid="fieldset-label">Protein</div>
    <span data-testid="fieldset-instructions">Please choose 1</span>
    <div role="group"><div data-testid="modifierDescription"><div>Chicken</div></div></div>
    <div role="group"><div data-testid="modifierDescription"><div>  Steak
      Asada </div></div><span data-testid="modifiers-price"><span>+$2.00</span></span></div>
    <div role="group"><div data-testid="modifierDescription"><div>Pork</div></div><span>-Out of stock-</span></div>
  </fieldset>
  <fieldset data-testid="fieldset-group">
    <div data-testid="fieldset-label">Extras</div>
    <span data-testid="fieldset-instructions">Pick a few</span>
    <div role="group"><div data-testid="modifierDescription"><div>Guac</div></div></div>
  </fieldset>
  <fieldset data-testid="fieldset-group">
    <div data-testid="fieldset-label">Special Instructions</div>
    <textarea id="specialInstructions"></textarea>
  </fieldset>
</div>`

func toastSite() *htmldriver.Site {
	return htmldriver.NewSite().
		Add(toastRoot, toastMenu).
		Add(toastRoot+"/item-burrito", toastBurrito).
		Add(toastRoot+"/item-bowl", `<div id="modal-root"><h2>Bowl</h2></div>`)
}

func toastAdapter(t *testing.T) storefront.Adapter {
	t.Helper()
	p := toast.Preset()
	p.Name = "taqueria"
	p.URL = toastRoot
	a, err := toast.New(p, testPolicy())
	require.NoError(t, err)
	return a
}

func intPtr(n int) *int { return &n }

func moneyPtr(m menu.Money) *menu.Money { return &m }

func wantToastMenu() *menu.Menu {
	return &menu.Menu{
		Storefront: "taqueria",
		Categories: []menu.Category{
			{Name: "Mains", Items: []menu.Item{
				{
					Name:        "Burrito",
					Description: "Big.",
					Price:       950,
					Handle:      menu.Link(toastRoot + "/item-burrito"),
					Image:       "https://img.test/burrito.jpg",
					ModifierGroups: []menu.ModifierGroup{
						{
							Name: "Protein", MinSelections: 1, MaxSelections: intPtr(1),
							Instruction: "Please choose 1",
							Options: []menu.Option{
								{Name: "Chicken"},
								{Name: "Steak Asada", Price: moneyPtr(200)},
							},
						},
						{
							Name:        "Extras",
							Instruction: "Pick a few",
							Unparsed:    true,
							Options:     []menu.Option{{Name: "Guac"}},
						},
					},
				},
				{
					Name:           "Bowl",
					Price:          1100,
					Handle:         menu.Link(toastRoot + "/item-bowl"),
					ModifierGroups: []menu.ModifierGroup{},
				},
			}},
			{Name: "Drinks", Items: []menu.Item{}},
		},
	}
}

func TestScrapeLinkStorefront(t *testing.T) {
	ctx := context.Background()
	site := toastSite()
	page, err := site.Open(ctx, toastRoot)
	require.NoError(t, err)

	res, err := New(toastAdapter(t), Options{}).Scrape(ctx, page)
	require.NoError(t, err)

	if diff := cmp.Diff(wantToastMenu(), res.Menu, cmpopts.IgnoreUnexported(menu.Menu{})); diff != "" {
		t.Errorf("menu mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, res.Issues, 2)
	assert.Equal(t, "Extras", res.Issues[0].Group)
	assert.Equal(t, failure.UnparsedInstruction, failure.CodeOf(res.Issues[0].Err))
	assert.Equal(t, "Soda", res.Issues[1].Item)
	assert.Equal(t, failure.DetailViewMissing, failure.CodeOf(res.Issues[1].Err))

	// The out-of-stock item is never opened.
	assert.Zero(t, site.Count(htmldriver.EventNavigate, toastRoot+"/item-taco"))
	_, ok := res.Menu.Lookup("Taco")
	assert.False(t, ok)
}

func TestScrapeIsolatedWorkers(t *testing.T) {
	ctx := context.Background()
	site := toastSite()
	page, err := site.Open(ctx, toastRoot)
	require.NoError(t, err)

	opts := Options{
		Workers: 3,
		NewPage: func(context.Context) (driver.Driver, func(), error) {
			return site.NewPage(), func() {}, nil
		},
	}
	res, err := New(toastAdapter(t), opts).Scrape(ctx, page)
	require.NoError(t, err)

	if diff := cmp.Diff(wantToastMenu(), res.Menu, cmpopts.IgnoreUnexported(menu.Menu{})); diff != "" {
		t.Errorf("menu mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, res.Issues, 2)
	// Detail views were opened on their own pages, not the menu page.
	u, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, toastRoot, u)
}

func TestScrapeSkipDetails(t *testing.T) {
	ctx := context.Background()
	site := toastSite()
	page, err := site.Open(ctx, toastRoot)
	require.NoError(t, err)

	res, err := New(toastAdapter(t), Options{SkipDetails: true}).Scrape(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"Burrito", "Bowl", "Soda"}, res.Menu.Names())
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1, site.Count(htmldriver.EventNavigate, toastRoot))
}

const levelupMenu = `<div class="MenuItemListStandard_local">
  <div>
    <h3 class="MenuCategory_title">Milk Tea</h3>
    <div class="MenuItemListStandard_menuItemList">
      <div>
        <button id="item-1"><div><h4>Classic</h4><div><div class="MenuItem_description">Black tea</div><p class="MenuItem_price">$4.75</p></div></div></button>
        <img src="https://img.test/classic.png">
      </div>
    </div>
  </div>
  <div><p>Powered by LevelUp</p></div>
</div>`

const levelupDetail = `<div id="menuItemDetailModal">
  <button id="menuItemDetailCloseButton">x</button>
  <div class="lu-collapse-local">
    <div>
      <div class="lu-collapse-header" aria-expanded="true"><span class="MenuItemDetail_optionsHeaderTitle">Size</span></div>
      <p class="MenuItemDetail_optionsHeaderInfo">RequiredSelect only one</p>
      <div class="MenuItemOptionGroup_optionItem"><span>Medium</span></div>
      <div class="MenuItemOptionGroup_optionItem"><span>Large</span><div class="MenuItemOptionGroup_optionItemInfoPrice">+$0.50</div></div>
    </div>
    <div>
      <div class="lu-collapse-header" aria-expanded="false"><span class="MenuItemDetail_optionsHeaderTitle">Toppings</span></div>
      <p class="MenuItemDetail_optionsHeaderInfo">Select as many as you like</p>
    </div>
  </div>
</div>`

func levelupSite() *htmldriver.Site {
	site := htmldriver.NewSite().Add(location, levelupMenu)
	site.OnClick("#item-1", func(p *htmldriver.Page, _ *goquery.Selection) error {
		p.Doc().Find("body").AppendHtml(levelupDetail)
		p.SetURL(location + "/item/1")
		return nil
	})
	site.OnClick(`div.lu-collapse-header[aria-expanded="false"]`, func(_ *htmldriver.Page, el *goquery.Selection) error {
		el.SetAttr("aria-expanded", "true")
		el.Parent().AppendHtml(`<div class="MenuItemOptionGroup_optionItem"><span>Boba</span></div><button class="more">Show more</button>`)
		return nil
	})
	site.OnClick("button.more", func(_ *htmldriver.Page, el *goquery.Selection) error {
		el.Parent().AppendHtml(`<div class="MenuItemOptionGroup_optionItem"><span>Pudding</span></div>`)
		el.Remove()
		return nil
	})
	site.OnClick("#menuItemDetailCloseButton", func(p *htmldriver.Page, _ *goquery.Selection) error {
		p.Doc().Find("#menuItemDetailModal").Remove()
		p.SetURL(location)
		return nil
	})
	return site
}

func TestScrapeTriggerStorefront(t *testing.T) {
	ctx := context.Background()
	site := levelupSite()
	page, err := site.Open(ctx, location)
	require.NoError(t, err)

	p := levelup.Preset()
	p.URL = location
	a, err := levelup.New(p, testPolicy())
	require.NoError(t, err)

	// Workers are ignored for trigger-activated storefronts.
	res, err := New(a, Options{Workers: 4, NewPage: func(context.Context) (driver.Driver, func(), error) {
		t.Fatal("isolated page opened for a trigger storefront")
		return nil, nil, nil
	}}).Scrape(ctx, page)
	require.NoError(t, err)

	want := &menu.Menu{
		Storefront: levelup.Platform,
		Categories: []menu.Category{{Name: "Milk Tea", Items: []menu.Item{{
			Name:        "Classic",
			Description: "Black tea",
			Price:       475,
			Handle:      menu.Trigger("item-1"),
			Image:       "https://img.test/classic.png",
			ModifierGroups: []menu.ModifierGroup{
				{
					Name: "Size", MinSelections: 1, MaxSelections: intPtr(1),
					Instruction: "RequiredSelect only one",
					Options:     []menu.Option{{Name: "Medium"}, {Name: "Large", Price: moneyPtr(50)}},
				},
				{
					Name:        "Toppings",
					Instruction: "Select as many as you like",
					Options:     []menu.Option{{Name: "Boba"}, {Name: "Pudding"}},
				},
			},
		}}}},
	}
	if diff := cmp.Diff(want, res.Menu, cmpopts.IgnoreUnexported(menu.Menu{})); diff != "" {
		t.Errorf("menu mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, "#menuItemDetailCloseButton"))
	assert.Zero(t, page.Doc().Find("#menuItemDetailModal").Length())
}

func TestImageOf(t *testing.T) {
	ctx := context.Background()
	page, err := htmldriver.FromHTML(toastRoot, `
		<img class="a" src="https://img.test/a.png">
		<div class="b" style="background-image:url('https://img.test/b.png');"></div>
		<div class="c" style="color: red"></div>`)
	require.NoError(t, err)

	for sel, want := range map[string]string{
		".a":       "https://img.test/a.png",
		".b":       "https://img.test/b.png",
		".c":       "",
		".missing": "",
	} {
		got, err := imageOf(ctx, page, sel)
		require.NoError(t, err)
		assert.Equal(t, want, got, sel)
	}
}
