// Package catalog holds the bean catalog the collective starts with.
package catalog

import (
	"context"
	"regexp"
	"strings"

	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/shopspring/decimal"
)

var spaces = regexp.MustCompile(`\s+`)

// Slug derives a bean id from its name: "Kenyan AA" -> "kenyan-aa".
func Slug(name string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

func bean(name, origin, region, process, roast string, notes []string, desc string, moq, price string) orders.CoffeeBean {
	return orders.CoffeeBean{
		ID:          Slug(name),
		Name:        name,
		Origin:      origin,
		Region:      region,
		Process:     process,
		RoastLevel:  roast,
		FlavorNotes: notes,
		Description: desc,
		MoqKg:       decimal.RequireFromString(moq),
		PricePerKg:  decimal.RequireFromString(price),
		Available:   true,
	}
}

// Beans returns a fresh copy of the seed catalog.
func Beans() []orders.CoffeeBean {
	return []orders.CoffeeBean{
		bean("Ethiopian Yirgacheffe", "Ethiopia", "Yirgacheffe, Gedeo Zone", "Washed", "Light",
			[]string{"Blueberry", "Jasmine", "Lemon zest", "Honey"},
			"Bright acidity, floral aroma and delicate fruit-forward sweetness.", "300", "18.5"),
		bean("Colombian Supremo", "Colombia", "Huila", "Washed", "Medium",
			[]string{"Caramel", "Red apple", "Chocolate", "Nutty"},
			"High-altitude Huila Supremo with caramel sweetness and a clean finish.", "500", "14.0"),
		bean("Guatemalan Antigua", "Guatemala", "Antigua Valley", "Washed", "Medium-Dark",
			[]string{"Dark chocolate", "Spice", "Smoky", "Brown sugar"},
			"Full-bodied volcanic-soil coffee with chocolate notes and a smoky finish.", "250", "16.0"),
		bean("Kenyan AA", "Kenya", "Nyeri County", "Washed", "Light-Medium",
			[]string{"Blackcurrant", "Grapefruit", "Tomato", "Brown sugar"},
			"Nyeri AA grade with bold, wine-like acidity and complex fruit.", "200", "22.0"),
		bean("Sumatra Mandheling", "Indonesia", "North Sumatra", "Wet-hulled (Giling Basah)", "Dark",
			[]string{"Earthy", "Cedar", "Dark chocolate", "Tobacco"},
			"Heavy body, low acidity and deep earthy tones.", "400", "12.5"),
		bean("Brazilian Santos", "Brazil", "Minas Gerais", "Natural (dry)", "Medium",
			[]string{"Peanut", "Milk chocolate", "Toffee", "Low acidity"},
			"Sweet, nutty and smooth; a dependable espresso base.", "600", "10.0"),
		bean("Costa Rican Tarrazú", "Costa Rica", "Tarrazú", "Honey", "Medium",
			[]string{"Peach", "Honey", "Bright acidity", "Vanilla"},
			"Honey-processed Tarrazú with juicy sweetness and vibrant acidity.", "200", "19.0"),
		bean("Rwandan Bourbon", "Rwanda", "Lake Kivu", "Washed", "Light",
			[]string{"Orange", "Floral", "Silky body", "Tea-like"},
			"Tea-like elegance with citrus brightness and a silky finish.", "150", "20.0"),
	}
}

// Seed upserts the catalog into store and returns how many beans it wrote.
func Seed(ctx context.Context, store orders.Store) (int, error) {
	beans := Beans()
	for _, b := range beans {
		if err := store.UpsertBean(ctx, b); err != nil {
			return 0, err
		}
	}
	return len(beans), nil
}
