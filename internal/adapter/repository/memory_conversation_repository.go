package repository

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// MemoryConversationRepository keeps conversations in process memory. It is
// used with STORAGE_DRIVER=memory and by tests, which can inject failures and
// count calls per operation.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message // conversation id -> messages in creation order

	calls    map[string]int
	failures map[string]error
}

var _ repository.ConversationRepository = (*MemoryConversationRepository)(nil)

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		calls:         make(map[string]int),
		failures:      make(map[string]error),
	}
}

// FailOn makes every subsequent call to op return err until cleared with a nil err.
func (r *MemoryConversationRepository) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Calls returns how many times op has been invoked.
func (r *MemoryConversationRepository) Calls(op string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[op]
}

// record must be called with mu held for writing.
func (r *MemoryConversationRepository) record(op string) error {
	r.calls[op]++
	if err, ok := r.failures[op]; ok {
		return errors.Persistence("Injected failure on "+op, err)
	}
	return nil
}

func (r *MemoryConversationRepository) FindConversation(ctx context.Context, customerID, storeID string) (*entity.Conversation, error) {
	conv, err := r.GetConversation(ctx, entity.ConversationKey(customerID, storeID))
	if err != nil {
		return nil, err
	}
	if !conv.Pairs(customerID, storeID) {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conv, nil
}

func (r *MemoryConversationRepository) FindOrCreateConversation(ctx context.Context, customerID, storeID string) (*entity.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("FindOrCreateConversation"); err != nil {
		return nil, false, err
	}

	key := entity.ConversationKey(customerID, storeID)
	if conv, ok := r.conversations[key]; ok {
		if !conv.Pairs(customerID, storeID) {
			return nil, false, errors.Conflict("Conversation key is held by another pair")
		}
		return copyConversation(conv), false, nil
	}

	now := time.Now()
	conv := &entity.Conversation{
		ID:            key,
		CustomerID:    customerID,
		StoreID:       storeID,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
		UnreadCount:   map[string]int{customerID: 0, storeID: 0},
	}
	r.conversations[key] = conv
	return copyConversation(conv), true, nil
}

func (r *MemoryConversationRepository) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("GetConversation"); err != nil {
		return nil, err
	}

	conv, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return copyConversation(conv), nil
}

func (r *MemoryConversationRepository) ListConversationsByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	return r.listConversations(func(c *entity.Conversation) bool {
		return c.CustomerID == customerID
	}, limit, offset)
}

func (r *MemoryConversationRepository) ListConversationsByStores(ctx context.Context, storeIDs []string, limit, offset int) ([]*entity.Conversation, int64, error) {
	wanted := make(map[string]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		wanted[id] = struct{}{}
	}
	return r.listConversations(func(c *entity.Conversation) bool {
		_, ok := wanted[c.StoreID]
		return ok
	}, limit, offset)
}

func (r *MemoryConversationRepository) listConversations(match func(*entity.Conversation) bool, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("ListConversations"); err != nil {
		return nil, 0, err
	}

	var out []*entity.Conversation
	for _, conv := range r.conversations {
		if match(conv) {
			out = append(out, copyConversation(conv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return paginate(out, limit, offset), int64(len(out)), nil
}

func (r *MemoryConversationRepository) TouchConversation(ctx context.Context, id string, at time.Time, preview, recipientKey string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("TouchConversation"); err != nil {
		return nil, err
	}

	conv, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	conv.Touch(at, preview, recipientKey)
	return copyConversation(conv), nil
}

func (r *MemoryConversationRepository) ResetUnread(ctx context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("ResetUnread"); err != nil {
		return err
	}

	conv, ok := r.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	conv.ResetUnread(key)
	return nil
}

func (r *MemoryConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("CreateMessage"); err != nil {
		return err
	}

	if _, ok := r.conversations[message.ConversationID]; !ok {
		return errors.NotFound("Conversation", nil)
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	stored := *message
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], &stored)
	return nil
}

func (r *MemoryConversationRepository) find(conversationID, messageID string) *entity.Message {
	for _, m := range r.messages[conversationID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (r *MemoryConversationRepository) GetMessage(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("GetMessage"); err != nil {
		return nil, err
	}

	m := r.find(conversationID, messageID)
	if m == nil {
		return nil, errors.NotFound("Message", nil)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryConversationRepository) UpdateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("UpdateMessage"); err != nil {
		return err
	}

	m := r.find(message.ConversationID, message.ID)
	if m == nil {
		return errors.NotFound("Message", nil)
	}
	if m.IsDeleted() {
		return errors.Conflict("Message has been deleted")
	}
	m.Content = message.Content
	m.AttachmentRefs = append([]string(nil), message.AttachmentRefs...)
	m.EditedAt = message.EditedAt
	m.DeletedAt = message.DeletedAt
	return nil
}

func (r *MemoryConversationRepository) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, next entity.DeliveryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("UpdateMessageStatus"); err != nil {
		return false, err
	}

	m := r.find(conversationID, messageID)
	if m == nil {
		return false, errors.NotFound("Message", nil)
	}
	return m.Advance(next), nil
}

func (r *MemoryConversationRepository) AdvanceMessages(ctx context.Context, conversationID string, filter repository.MessageFilter, next entity.DeliveryStatus) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("AdvanceMessages"); err != nil {
		return nil, err
	}

	var advanced []string
	for _, m := range r.messages[conversationID] {
		if m.SenderRole != filter.AuthorRole || !statusIn(m.Status, filter.Statuses) {
			continue
		}
		if m.Advance(next) {
			advanced = append(advanced, m.ID)
		}
	}
	return advanced, nil
}

func (r *MemoryConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("ListMessages"); err != nil {
		return nil, 0, err
	}

	stored := r.messages[conversationID]
	out := make([]*entity.Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		cp := *stored[i]
		out = append(out, &cp)
	}
	return paginate(out, limit, offset), int64(len(out)), nil
}

func statusIn(s entity.DeliveryStatus, set []entity.DeliveryStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func copyConversation(c *entity.Conversation) *entity.Conversation {
	cp := *c
	cp.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	return &cp
}

// MemoryIdentityRepository is a static identity store for development and tests.
type MemoryIdentityRepository struct {
	mu        sync.RWMutex
	customers map[string]*entity.Customer
	operators map[string]*entity.Operator
}

var _ repository.IdentityRepository = (*MemoryIdentityRepository)(nil)

func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		customers: make(map[string]*entity.Customer),
		operators: make(map[string]*entity.Operator),
	}
}

func (r *MemoryIdentityRepository) AddCustomer(c *entity.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = c
}

func (r *MemoryIdentityRepository) AddOperator(o *entity.Operator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[o.ID] = o
}

func (r *MemoryIdentityRepository) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, errors.NotFound("Customer", nil)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryIdentityRepository) GetOperator(ctx context.Context, id string) (*entity.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.operators[id]
	if !ok {
		return nil, errors.NotFound("Store operator", nil)
	}
	cp := *o
	cp.StoreIDs = append([]string(nil), o.StoreIDs...)
	return &cp, nil
}

func (r *MemoryIdentityRepository) ListStoreOperators(ctx context.Context, storeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, o := range r.operators {
		for _, s := range o.StoreIDs {
			if s == storeID {
				ids = append(ids, o.ID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type identitySeed struct {
	Customers []*entity.Customer `json:"customers"`
	Operators []*entity.Operator `json:"operators"`
}

// LoadSeed reads customers and operators from a JSON document of the form
// {"customers": [...], "operators": [...]}.
func (r *MemoryIdentityRepository) LoadSeed(src io.Reader) (int, error) {
	var seed identitySeed
	if err := json.NewDecoder(src).Decode(&seed); err != nil {
		return 0, err
	}
	for _, c := range seed.Customers {
		r.AddCustomer(c)
	}
	for _, o := range seed.Operators {
		r.AddOperator(o)
	}
	return len(seed.Customers) + len(seed.Operators), nil
}
