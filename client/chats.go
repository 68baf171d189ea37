package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"marketchat/models"
)

// GetMessages retrieves one page of a room's message history at the given
// offset. Pages come back newest first.
func (c *Client) GetMessages(ctx context.Context, chatID int64, offset int) (models.MessagePage, error) {
	var page models.MessagePage
	path := fmt.Sprintf("/chats/messages/%d?offset=%d", chatID, offset)
	if err := c.get(ctx, path, &page); err != nil {
		return models.MessagePage{}, err
	}
	return page, nil
}

// GetChatID looks up the chat room for an item. Returns ErrNoRoom when no
// room exists yet.
func (c *Client) GetChatID(ctx context.Context, itemID int64) (int64, error) {
	var resp struct {
		Data int64 `json:"data"`
	}
	err := c.get(ctx, fmt.Sprintf("/chats/id/%d", itemID), &resp)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.Status == http.StatusNotFound {
			return 0, ErrNoRoom
		}
		return 0, err
	}
	return resp.Data, nil
}

// CreateRoomWithFirstMessage creates a chat room for an item, sending the
// first message in the same request, and returns the new room id.
func (c *Client) CreateRoomWithFirstMessage(ctx context.Context, itemID int64, content string) (int64, error) {
	body := struct {
		ItemID       int64  `json:"item_id"`
		FirstMessage string `json:"first_message_content"`
	}{ItemID: itemID, FirstMessage: content}

	var resp struct {
		Data int64 `json:"data"`
	}
	if err := c.post(ctx, "/chats/", body, &resp); err != nil {
		return 0, err
	}
	return resp.Data, nil
}

// GetChatGroups retrieves the user's chat list for one side of the
// marketplace ("Buy" or "Sell").
func (c *Client) GetChatGroups(ctx context.Context, side string) ([]models.ChatGroup, error) {
	var resp struct {
		Data []models.ChatGroup `json:"data"`
	}
	if err := c.get(ctx, "/chats/"+side, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
