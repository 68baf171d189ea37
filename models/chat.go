package models

// ChatGroup is one entry in a user's buy or sell chat list.
type ChatGroup struct {
	ID            int64  `json:"id"`
	ItemID        int64  `json:"item_id"`
	OtherUserName string `json:"other_user_name"`
	LastMessage   string `json:"last_message_content"`
	UnreadCount   int    `json:"unread_count"`
}
