package repository

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

func TestFindOrCreateConversationIsIdempotentUnderConcurrency(t *testing.T) {
	repo := NewMemoryConversationRepository()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[string]struct{})
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, isNew, err := repo.FindOrCreateConversation(context.Background(), "cust-1", "store-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			ids[conv.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	_, ok := ids[entity.ConversationKey("cust-1", "store-1")]
	assert.True(t, ok)
}

func TestFindOrCreateConversationKeepsPairsApart(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	first, created, err := repo.FindOrCreateConversation(ctx, "a_b", "c")
	require.NoError(t, err)
	assert.True(t, created)
	_, err = repo.TouchConversation(ctx, first.ID, time.Now(), "secret order 42", "c")
	require.NoError(t, err)

	second, created, err := repo.FindOrCreateConversation(ctx, "a", "b_c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "a", second.CustomerID)
	assert.Equal(t, "b_c", second.StoreID)
	assert.Empty(t, second.LastMessage)

	found, err := repo.FindConversation(ctx, "a", "b_c")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestFindOrCreateConversationRejectsForeignRow(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	// A row written under another pair's key, as legacy data might be.
	repo.conversations[entity.ConversationKey("a", "b_c")] = &entity.Conversation{
		ID:         entity.ConversationKey("a", "b_c"),
		CustomerID: "a_b",
		StoreID:    "c",
	}

	_, _, err := repo.FindOrCreateConversation(ctx, "a", "b_c")
	assert.True(t, errors.Is(err, errors.CodeConflict))

	_, err = repo.FindConversation(ctx, "a", "b_c")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestTouchConversationKeepsLastMessageAtMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	conv, _, err := repo.FindOrCreateConversation(ctx, "cust-1", "store-1")
	require.NoError(t, err)

	later := conv.LastMessageAt.Add(time.Minute)
	_, err = repo.TouchConversation(ctx, conv.ID, later, "second", "store-1")
	require.NoError(t, err)
	updated, err := repo.TouchConversation(ctx, conv.ID, later.Add(-30*time.Second), "first", "store-1")
	require.NoError(t, err)

	assert.Equal(t, later, updated.LastMessageAt)
	assert.Equal(t, "second", updated.LastMessage)
	assert.Equal(t, 2, updated.UnreadCount["store-1"])
	assert.Equal(t, 0, updated.UnreadCount["cust-1"])

	require.NoError(t, repo.ResetUnread(ctx, conv.ID, "store-1"))
	reloaded, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.UnreadFor(entity.RoleStoreOperator))
}

func TestAdvanceMessagesFiltersByAuthorAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	conv, _, err := repo.FindOrCreateConversation(ctx, "cust-1", "store-1")
	require.NoError(t, err)

	customer := entity.CustomerAuthor{CustomerID: "cust-1"}
	store := entity.StoreAuthor{OperatorID: "op-1", StoreID: "store-1"}
	now := time.Now()

	fromCustomer := entity.NewMessage(conv.ID, customer, "hello", entity.KindText, now)
	failed := entity.NewMessage(conv.ID, customer, "lost", entity.KindText, now)
	failed.Status = entity.StatusFailed
	fromStore := entity.NewMessage(conv.ID, store, "hi", entity.KindText, now)
	for _, m := range []*entity.Message{fromCustomer, failed, fromStore} {
		require.NoError(t, repo.CreateMessage(ctx, m))
	}

	ids, err := repo.AdvanceMessages(ctx, conv.ID, repository.MessageFilter{
		AuthorRole: entity.RoleCustomer,
		Statuses:   []entity.DeliveryStatus{entity.StatusSent, entity.StatusDelivered},
	}, entity.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, []string{fromCustomer.ID}, ids)

	again, err := repo.AdvanceMessages(ctx, conv.ID, repository.MessageFilter{AuthorRole: entity.RoleCustomer}, entity.StatusRead)
	require.NoError(t, err)
	assert.Empty(t, again, "read and failed messages do not move")

	changed, err := repo.UpdateMessageStatus(ctx, conv.ID, fromCustomer.ID, entity.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed, "status never moves backwards")

	stored, err := repo.GetMessage(ctx, conv.ID, fromStore.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSent, stored.Status)
}

func TestUpdateMessageLeavesStatusAlone(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	conv, _, err := repo.FindOrCreateConversation(ctx, "cust-1", "store-1")
	require.NoError(t, err)

	message := entity.NewMessage(conv.ID, entity.CustomerAuthor{CustomerID: "cust-1"}, "hello", entity.KindText, time.Now())
	require.NoError(t, repo.CreateMessage(ctx, message))
	_, err = repo.UpdateMessageStatus(ctx, conv.ID, message.ID, entity.StatusDelivered)
	require.NoError(t, err)

	stale, err := repo.GetMessage(ctx, conv.ID, message.ID)
	require.NoError(t, err)
	_, err = repo.UpdateMessageStatus(ctx, conv.ID, message.ID, entity.StatusRead)
	require.NoError(t, err)

	edited := time.Now()
	stale.Content = "hello again"
	stale.EditedAt = &edited
	require.NoError(t, repo.UpdateMessage(ctx, stale))

	stored, err := repo.GetMessage(ctx, conv.ID, message.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRead, stored.Status)
	assert.Equal(t, "hello again", stored.Content)
	require.NotNil(t, stored.EditedAt)

	deleted := time.Now()
	stored.Content = ""
	stored.DeletedAt = &deleted
	require.NoError(t, repo.UpdateMessage(ctx, stored))

	stale.Content = "resurrected"
	err = repo.UpdateMessage(ctx, stale)
	assert.True(t, errors.Is(err, errors.CodeConflict))

	final, err := repo.GetMessage(ctx, conv.ID, message.ID)
	require.NoError(t, err)
	assert.True(t, final.IsDeleted())
	assert.Empty(t, final.Content)
}

func TestListMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	conv, _, err := repo.FindOrCreateConversation(ctx, "cust-1", "store-1")
	require.NoError(t, err)

	base := time.Now()
	for i, content := range []string{"one", "two", "three"} {
		m := entity.NewMessage(conv.ID, entity.CustomerAuthor{CustomerID: "cust-1"}, content, entity.KindText, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.CreateMessage(ctx, m))
	}

	page, total, err := repo.ListMessages(ctx, conv.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "two", page[1].Content)

	rest, _, err := repo.ListMessages(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "one", rest[0].Content)
}

func TestInjectedFailuresAndCallCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	repo.FailOn("GetConversation", stderrors.New("unavailable"))

	_, err := repo.GetConversation(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodePersistence))
	assert.Equal(t, 1, repo.Calls("GetConversation"))

	repo.FailOn("GetConversation", nil)
	_, err = repo.GetConversation(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.Equal(t, 2, repo.Calls("GetConversation"))
}

func TestIdentitySeed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIdentityRepository()

	n, err := repo.LoadSeed(strings.NewReader(`{
		"customers": [{"id": "cust-1", "name": "Ana"}],
		"operators": [
			{"id": "op-2", "name": "Budi", "store_ids": ["store-1"]},
			{"id": "op-1", "name": "Citra", "store_ids": ["store-1", "store-2"]}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	customer, err := repo.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", customer.Name)

	ops, err := repo.ListStoreOperators(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1", "op-2"}, ops)

	_, err = repo.GetOperator(ctx, "nobody")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
