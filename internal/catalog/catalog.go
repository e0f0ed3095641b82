package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Epsilon is the tolerance used when matching provider-formatted amounts.
var Epsilon = decimal.RequireFromString("0.01")

var (
	ErrEmptyCatalog     = errors.New("catalog has no entries")
	ErrAmbiguousEntries = errors.New("catalog entries within tolerance of each other")
	ErrInvalidEntry     = errors.New("invalid catalog entry")
)

// Entry maps a paid amount to the number of points credited for it.
type Entry struct {
	Amount decimal.Decimal
	Points int64
	Image  string
}

// Catalog is an ordered, read-only list of purchasable packages.
// Lookups walk entries in file order.
type Catalog struct {
	entries []Entry
}

// Default mirrors the packages offered by the storefront out of the box.
func Default() *Catalog {
	c, _ := New([]Entry{
		{Amount: decimal.RequireFromString("1.00"), Points: 100, Image: "/images/coins_100.png"},
		{Amount: decimal.RequireFromString("5.00"), Points: 1000, Image: "/images/coins_1000.png"},
		{Amount: decimal.RequireFromString("10.00"), Points: 2200, Image: "/images/coins_2200.png"},
		{Amount: decimal.RequireFromString("20.00"), Points: 4800, Image: "/images/coins_4800.png"},
		{Amount: decimal.RequireFromString("40.00"), Points: 10000, Image: "/images/coins_10000.png"},
		{Amount: decimal.RequireFromString("60.00"), Points: 16000, Image: "/images/coins_16000.png"},
	})
	return c
}

// New validates entries and builds a catalog. Two entries closer than
// Epsilon would make tolerant lookups order-dependent, so they are rejected.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}
	for i, e := range entries {
		if !e.Amount.IsPositive() || e.Points <= 0 {
			return nil, fmt.Errorf("%w: amount %s points %d", ErrInvalidEntry, e.Amount, e.Points)
		}
		for _, prev := range entries[:i] {
			if prev.Amount.Sub(e.Amount).Abs().LessThan(Epsilon) {
				return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousEntries, prev.Amount, e.Amount)
			}
		}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Catalog{entries: out}, nil
}

type fileEntry struct {
	Amount string `yaml:"amount"`
	Points int64  `yaml:"points"`
	Image  string `yaml:"image"`
}

type file struct {
	Packages []fileEntry `yaml:"packages"`
}

// Load reads a catalog from a YAML file of the form:
//
//	packages:
//	  - amount: "10.00"
//	    points: 2200
//	    image: /images/coins_2200.png
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	entries := make([]Entry, 0, len(f.Packages))
	for _, p := range f.Packages {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidEntry, p.Amount, err)
		}
		entries = append(entries, Entry{Amount: amount, Points: p.Points, Image: p.Image})
	}
	return New(entries)
}

// LookupExact returns the points for an amount equal to a catalog entry.
func (c *Catalog) LookupExact(amount decimal.Decimal) (int64, bool) {
	for _, e := range c.entries {
		if e.Amount.Equal(amount) {
			return e.Points, true
		}
	}
	return 0, false
}

// LookupTolerant returns the points for the first entry strictly within
// Epsilon of amount.
func (c *Catalog) LookupTolerant(amount decimal.Decimal) (int64, bool) {
	for _, e := range c.entries {
		if e.Amount.Sub(amount).Abs().LessThan(Epsilon) {
			return e.Points, true
		}
	}
	return 0, false
}

// Entries returns a copy of the catalog in order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Prices maps the two-decimal amount label to points.
func (c *Catalog) Prices() map[string]int64 {
	out := make(map[string]int64, len(c.entries))
	for _, e := range c.entries {
		out[e.Amount.StringFixed(2)] = e.Points
	}
	return out
}

// Images maps the two-decimal amount label to the package image, skipping
// entries without one.
func (c *Catalog) Images() map[string]string {
	out := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		if e.Image != "" {
			out[e.Amount.StringFixed(2)] = e.Image
		}
	}
	return out
}
