package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTouchKeepsLastMessageAtMonotonic(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := &Conversation{ID: "c_s", CustomerID: "c", StoreID: "s", LastMessageAt: base}

	conv.Touch(base.Add(time.Minute), "newer", "s")
	conv.Touch(base.Add(-time.Minute), "older", "s")

	assert.Equal(t, base.Add(time.Minute), conv.LastMessageAt)
	assert.Equal(t, "newer", conv.LastMessage)
	assert.Equal(t, 2, conv.UnreadCount["s"])

	conv.ResetUnread("s")
	assert.Equal(t, 0, conv.UnreadFor(RoleStoreOperator))
}

func TestConversationKeyDistinguishesPairs(t *testing.T) {
	assert.NotEqual(t, ConversationKey("a_b", "c"), ConversationKey("a", "b_c"))
	assert.NotEqual(t, ConversationKey("1_a", "b"), ConversationKey("1", "a_b"))
	assert.Equal(t, ConversationKey("cust-1", "store-1"), ConversationKey("cust-1", "store-1"))

	conv := &Conversation{CustomerID: "a_b", StoreID: "c"}
	assert.True(t, conv.Pairs("a_b", "c"))
	assert.False(t, conv.Pairs("a", "b_c"))
}

func TestAuthorForResolvesSides(t *testing.T) {
	conv := &Conversation{ID: ConversationKey("c", "s"), CustomerID: "c", StoreID: "s"}
	assert.Equal(t, "1_c_s", conv.ID)

	author, ok := AuthorFor(Participant{ID: "c", Role: RoleCustomer}, conv)
	assert.True(t, ok)
	assert.Equal(t, "c", author.SideKey())

	author, ok = AuthorFor(Participant{ID: "op", Role: RoleStoreOperator, StoreIDs: []string{"other", "s"}}, conv)
	assert.True(t, ok)
	assert.Equal(t, "s", author.SideKey())
	assert.Equal(t, "op", author.SenderID())

	_, ok = AuthorFor(Participant{ID: "op", Role: RoleStoreOperator, StoreIDs: []string{"other"}}, conv)
	assert.False(t, ok)
	_, ok = AuthorFor(Participant{ID: "c2", Role: RoleCustomer}, conv)
	assert.False(t, ok)
	_, ok = AuthorFor(Participant{ID: "s", Role: RoleCustomer}, conv)
	assert.False(t, ok, "a customer id equal to the store id is not the store")
}

func TestParseRoleCanonicalisesAliases(t *testing.T) {
	for _, raw := range []string{"customer", "user", "Buyer"} {
		role, ok := ParseRole(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, RoleCustomer, role, raw)
	}
	for _, raw := range []string{"store_operator", "merchant", "seller", "store", " operator "} {
		role, ok := ParseRole(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, RoleStoreOperator, role, raw)
	}
	_, ok := ParseRole("admin")
	assert.False(t, ok)
}
