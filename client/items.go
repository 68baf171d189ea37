package client

import (
	"context"
	"fmt"

	"marketchat/models"
)

// GetItems retrieves all active item listings.
func (c *Client) GetItems(ctx context.Context) ([]models.Item, error) {
	var resp struct {
		Data []models.Item `json:"data"`
	}
	if err := c.get(ctx, "/items/", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetItemsByCategory retrieves item listings filtered to one category.
func (c *Client) GetItemsByCategory(ctx context.Context, category string) ([]models.Item, error) {
	var resp struct {
		Data []models.Item `json:"data"`
	}
	if err := c.get(ctx, "/items/category/"+category, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetItem retrieves a single item listing.
func (c *Client) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	var resp struct {
		Data models.Item `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/items/%d", id), &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
