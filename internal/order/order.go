// Package order holds caller-supplied order requests and the order file
// format they are loaded from.
package order

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// Selection picks one option of one modifier group. Several selections may
// name the same group.
type Selection struct {
	GroupName  string `json:"groupName"`
	OptionName string `json:"optionName"`
}

// Request is one item to add to the cart. Selections are applied in order.
type Request struct {
	ItemName   string      `json:"itemName"`
	Selections []Selection `json:"selections"`
	Quantity   int         `json:"quantity"`
	Note       string      `json:"note"`
}

func (r Request) String() string {
	return fmt.Sprintf("%dx %s", r.Quantity, r.ItemName)
}

// record mirrors one entry of an order file.
type record struct {
	MenuItem struct {
		Name string `json:"name"`
	} `json:"menuItem"`
	FoodOptions []struct {
		Name    string `json:"name"`
		Options []struct {
			Name string `json:"name"`
		} `json:"options"`
	} `json:"foodOptions"`
	Quantity int    `json:"quantity"`
	Comment  string `json:"comment"`
}

func (rec record) request() Request {
	req := Request{
		ItemName: rec.MenuItem.Name,
		Quantity: rec.Quantity,
		Note:     rec.Comment,
	}
	for _, group := range rec.FoodOptions {
		for _, opt := range group.Options {
			req.Selections = append(req.Selections, Selection{GroupName: group.Name, OptionName: opt.Name})
		}
	}
	return req
}

// Parse reads an order file body: a JSON (or JSON5) array of
// {menuItem:{name}, foodOptions:[{name, options:[{name}]}], quantity, comment}.
// Nested option groups are flattened into Selections in file order.
func Parse(data []byte) ([]Request, error) {
	var records []record
	if err := json5.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse order file: %w", err)
	}
	requests := make([]Request, 0, len(records))
	for i, rec := range records {
		if strings.TrimSpace(rec.MenuItem.Name) == "" {
			return nil, fmt.Errorf("order %d: missing menuItem.name", i+1)
		}
		requests = append(requests, rec.request())
	}
	return requests, nil
}

func LoadFile(path string) ([]Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	requests, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return requests, nil
}

// Files returns the order files at path: the file itself, or every .json and
// .json5 file in the directory, sorted by name.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".json" || ext == ".json5" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
