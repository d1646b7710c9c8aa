// Package menu is the normalized menu model produced by scraping and consumed
// by order composition.
package menu

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/antzucaro/matchr"

	"orderbot/internal/driver"
)

// HandleKind tells how an item's detail view is opened.
type HandleKind string

const (
	// HandleLink is a navigable URL.
	HandleLink HandleKind = "link"
	// HandleTrigger is the id of an in-page element that opens a modal.
	HandleTrigger HandleKind = "trigger"
)

// ActivationHandle is a tagged union: a link or a trigger id, never both.
type ActivationHandle struct {
	Kind  HandleKind `json:"kind"`
	Value string     `json:"value"`
}

func Link(href string) ActivationHandle  { return ActivationHandle{Kind: HandleLink, Value: href} }
func Trigger(id string) ActivationHandle { return ActivationHandle{Kind: HandleTrigger, Value: id} }

func (h ActivationHandle) IsZero() bool   { return h.Value == "" }
func (h ActivationHandle) String() string { return string(h.Kind) + ":" + h.Value }

type Menu struct {
	Storefront string     `json:"storefront,omitempty"`
	Categories []Category `json:"categories"`

	index map[string]*Item
}

type Category struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

type Item struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Price          Money            `json:"price"`
	Handle         ActivationHandle `json:"handle"`
	Image          string           `json:"image,omitempty"`
	ModifierGroups []ModifierGroup  `json:"modifierGroups"`
}

// ModifierGroup holds the options of one fieldset. MaxSelections is nil when
// unbounded. Unparsed is set when the instruction text matched no known
// phrasing; Min and Max are then zero values and must not be trusted.
type ModifierGroup struct {
	Name          string   `json:"name"`
	MinSelections int      `json:"minSelections"`
	MaxSelections *int     `json:"maxSelections"`
	Instruction   string   `json:"instruction,omitempty"`
	Unparsed      bool     `json:"unparsed,omitempty"`
	Options       []Option `json:"options"`
}

type Option struct {
	Name  string `json:"name"`
	Price *Money `json:"price,omitempty"`
}

// Required reports whether at least one option must be chosen.
func (g ModifierGroup) Required() bool { return g.MinSelections > 0 }

// Exclusive reports whether the group is a single required choice.
func (g ModifierGroup) Exclusive() bool {
	return g.MinSelections == 1 && g.MaxSelections != nil && *g.MaxSelections == 1
}

// Reindex rebuilds the name lookup. Duplicate names resolve to the item that
// appears last in document order.
func (m *Menu) Reindex() {
	m.index = make(map[string]*Item)
	for ci := range m.Categories {
		for ii := range m.Categories[ci].Items {
			item := &m.Categories[ci].Items[ii]
			m.index[item.Name] = item
		}
	}
}

// Lookup finds an item by exact name, falling back to a whitespace-normalized
// comparison.
func (m *Menu) Lookup(name string) (*Item, bool) {
	if m.index == nil {
		m.Reindex()
	}
	if item, ok := m.index[name]; ok {
		return item, true
	}
	want := driver.NormalizeSpace(name)
	var found *Item
	for ci := range m.Categories {
		for ii := range m.Categories[ci].Items {
			if driver.NormalizeSpace(m.Categories[ci].Items[ii].Name) == want {
				found = &m.Categories[ci].Items[ii]
			}
		}
	}
	return found, found != nil
}

// Names returns every item name in document order.
func (m *Menu) Names() []string {
	var names []string
	for _, c := range m.Categories {
		for _, it := range c.Items {
			names = append(names, it.Name)
		}
	}
	return names
}

// ItemCount counts items across categories.
func (m *Menu) ItemCount() int {
	n := 0
	for _, c := range m.Categories {
		n += len(c.Items)
	}
	return n
}

// Group finds a modifier group on the item by normalized name.
func (it *Item) Group(name string) (*ModifierGroup, bool) {
	want := driver.NormalizeSpace(name)
	for i := range it.ModifierGroups {
		if driver.NormalizeSpace(it.ModifierGroups[i].Name) == want {
			return &it.ModifierGroups[i], true
		}
	}
	return nil, false
}

// Closest returns the candidate most similar to name by Jaro-Winkler
// distance, or "" when nothing is reasonably close.
func Closest(name string, candidates []string) string {
	const threshold = 0.8
	best, bestScore := "", 0.0
	want := strings.ToLower(driver.NormalizeSpace(name))
	for _, c := range candidates {
		score := matchr.JaroWinkler(want, strings.ToLower(driver.NormalizeSpace(c)), false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < threshold {
		return ""
	}
	return best
}

func ReadFile(path string) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Menu
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse menu %s: %w", path, err)
	}
	m.Reindex()
	return &m, nil
}

func (m *Menu) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
