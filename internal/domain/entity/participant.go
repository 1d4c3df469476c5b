package entity

import "strings"

// Role is the side of a conversation a participant acts for.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleStoreOperator Role = "store_operator"
)

// ParseRole canonicalises the role strings found in credentials and legacy
// documents. Unknown values report ok=false.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "customer", "user", "buyer", "client":
		return RoleCustomer, true
	case "store_operator", "store-operator", "operator", "store", "merchant", "seller", "staff":
		return RoleStoreOperator, true
	}
	return "", false
}

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleStoreOperator
}

// Opposite returns the role on the other side of a conversation.
func (r Role) Opposite() Role {
	if r == RoleCustomer {
		return RoleStoreOperator
	}
	return RoleCustomer
}

// Participant is an authenticated identity. StoreIDs is only populated for
// store operators and lists the stores they administer.
type Participant struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Name     string   `json:"name,omitempty"`
	StoreIDs []string `json:"store_ids,omitempty"`
}

func (p Participant) Administers(storeID string) bool {
	if p.Role != RoleStoreOperator {
		return false
	}
	for _, id := range p.StoreIDs {
		if id == storeID {
			return true
		}
	}
	return false
}

// Author is the sender of a message. It is either a CustomerAuthor or a
// StoreAuthor; no other implementations exist.
type Author interface {
	Role() Role
	SenderID() string
	// SideKey is the key of the author's side in a conversation's unread counters.
	SideKey() string
	isAuthor()
}

type CustomerAuthor struct {
	CustomerID string
}

func (a CustomerAuthor) Role() Role       { return RoleCustomer }
func (a CustomerAuthor) SenderID() string { return a.CustomerID }
func (a CustomerAuthor) SideKey() string  { return a.CustomerID }
func (CustomerAuthor) isAuthor()          {}

// StoreAuthor is an operator writing on behalf of a store.
type StoreAuthor struct {
	OperatorID string
	StoreID    string
}

func (a StoreAuthor) Role() Role       { return RoleStoreOperator }
func (a StoreAuthor) SenderID() string { return a.OperatorID }
func (a StoreAuthor) SideKey() string  { return a.StoreID }
func (StoreAuthor) isAuthor()          {}

// AuthorFor resolves how p may write into conv. ok is false when p is not a
// participant of conv.
func AuthorFor(p Participant, conv *Conversation) (Author, bool) {
	if conv == nil {
		return nil, false
	}
	switch p.Role {
	case RoleCustomer:
		if conv.CustomerID == p.ID {
			return CustomerAuthor{CustomerID: p.ID}, true
		}
	case RoleStoreOperator:
		if p.Administers(conv.StoreID) {
			return StoreAuthor{OperatorID: p.ID, StoreID: conv.StoreID}, true
		}
	}
	return nil, false
}
