package entity

import (
	"strconv"
	"time"
)

// Conversation pairs exactly one customer with one store.
type Conversation struct {
	ID            string         `json:"id" firestore:"id"`
	CustomerID    string         `json:"customer_id" firestore:"customerId"`
	StoreID       string         `json:"store_id" firestore:"storeId"`
	CreatedAt     time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time      `json:"updated_at" firestore:"updatedAt"`
	LastMessageAt time.Time      `json:"last_message_at" firestore:"lastMessageAt"`
	LastMessage   string         `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	UnreadCount   map[string]int `json:"unread_count" firestore:"unreadCount"` // side key -> unread count
}

// ConversationKey is the deterministic id of the conversation between a
// customer and a store. The customer id is length-prefixed so that distinct
// pairs never share a key.
func ConversationKey(customerID, storeID string) string {
	return strconv.Itoa(len(customerID)) + "_" + customerID + "_" + storeID
}

// Pairs reports whether c is the conversation between customerID and storeID.
func (c *Conversation) Pairs(customerID, storeID string) bool {
	return c.CustomerID == customerID && c.StoreID == storeID
}

// SideKey returns the unread-counter key for the given role.
func (c *Conversation) SideKey(role Role) string {
	if role == RoleCustomer {
		return c.CustomerID
	}
	return c.StoreID
}

// UnreadFor returns the unread count of the side p belongs to.
func (c *Conversation) UnreadFor(role Role) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[c.SideKey(role)]
}

// IsParticipant reports whether p is the customer or an operator of the store.
func (c *Conversation) IsParticipant(p Participant) bool {
	_, ok := AuthorFor(p, c)
	return ok
}

// Touch applies a new message to the conversation: last-message-at only
// moves forward and the recipient side's counter is incremented.
func (c *Conversation) Touch(at time.Time, preview string, recipientKey string) {
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
		c.LastMessage = preview
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	if recipientKey != "" {
		c.UnreadCount[recipientKey]++
	}
	c.UpdatedAt = time.Now()
}

// ResetUnread zeroes the counter for the given side key.
func (c *Conversation) ResetUnread(key string) {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.UnreadCount[key] = 0
}
