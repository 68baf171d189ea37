package models

// Item is a marketplace listing.
type Item struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	Images      []string `json:"images"`
}
