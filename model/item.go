package model

import "fmt"

type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Brand *string `json:"brand"`
}

// NewItem is the create payload; pointers let us tell
// a missing field from a zero value
type NewItem struct {
	Name  *string  `json:"name"`
	Price *float64 `json:"price"`
	Brand *string  `json:"brand"`
}

// UpdateItem is a patch: nil fields are left alone
type UpdateItem struct {
	Name  *string  `json:"name"`
	Price *float64 `json:"price"`
	Brand *string  `json:"brand"`
}

func (n NewItem) Item() (Item, error) {
	if n.Name == nil {
		return Item{}, fmt.Errorf("name: field required")
	}

	if n.Price == nil {
		return Item{}, fmt.Errorf("price: field required")
	}

	return Item{Name: *n.Name, Price: *n.Price, Brand: n.Brand}, nil
}

// Apply returns i with every non-nil field of u copied over it.
func Apply(i Item, u UpdateItem) Item {
	if u.Name != nil {
		i.Name = *u.Name
	}

	if u.Price != nil {
		i.Price = *u.Price
	}

	if u.Brand != nil {
		b := *u.Brand
		i.Brand = &b
	}

	return i
}
