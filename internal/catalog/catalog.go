// Package catalog prices products for the purchase service.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// Product is one priced catalog entry.
type Product struct {
	Name  string  `yaml:"name" json:"name"`
	Price float64 `yaml:"price" json:"price"`
}

type file struct {
	Products []Product `yaml:"products"`
}

// Catalog is an immutable product -> price lookup.
type Catalog struct {
	prices map[string]float64
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New([]Product{
		{Name: "Product A", Price: 10.99},
		{Name: "Product B", Price: 19.99},
		{Name: "Product C", Price: 5.99},
	})
}

func New(products []Product) *Catalog {
	prices := make(map[string]float64, len(products))
	for _, p := range products {
		prices[p.Name] = p.Price
	}
	return &Catalog{prices: prices}
}

// Load reads a YAML catalog from path. An empty path yields Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read catalog: %v", domain.ErrConfiguration, err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog bytes and rejects empty, duplicate or
// non-positive entries.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %v", domain.ErrConfiguration, err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("%w: catalog has no products", domain.ErrConfiguration)
	}

	seen := make(map[string]bool, len(f.Products))
	for _, p := range f.Products {
		switch {
		case p.Name == "":
			return nil, fmt.Errorf("%w: catalog entry without name", domain.ErrConfiguration)
		case p.Price <= 0:
			return nil, fmt.Errorf("%w: product %q has non-positive price", domain.ErrConfiguration, p.Name)
		case seen[p.Name]:
			return nil, fmt.Errorf("%w: product %q listed twice", domain.ErrConfiguration, p.Name)
		}
		seen[p.Name] = true
	}
	return New(f.Products), nil
}

// Price returns the price of product or domain.ErrInvalidProduct.
func (c *Catalog) Price(product string) (float64, error) {
	price, ok := c.prices[product]
	if !ok {
		return 0, domain.ErrInvalidProduct
	}
	return price, nil
}

// Products lists the catalog sorted by name.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.prices))
	for name, price := range c.prices {
		out = append(out, Product{Name: name, Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
