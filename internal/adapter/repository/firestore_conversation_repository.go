package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	// Firestore caps "in" filters at 30 values.
	maxInValues = 30
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection)
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection(messagesCollection)
}

func (r *firestoreConversationRepository) FindConversation(ctx context.Context, customerID, storeID string) (*entity.Conversation, error) {
	conv, err := r.GetConversation(ctx, entity.ConversationKey(customerID, storeID))
	if err != nil {
		return nil, err
	}
	if !conv.Pairs(customerID, storeID) {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conv, nil
}

// FindOrCreateConversation keys the document by the (customer, store) pair so
// the transaction either sees the existing row or creates the only one.
func (r *firestoreConversationRepository) FindOrCreateConversation(ctx context.Context, customerID, storeID string) (*entity.Conversation, bool, error) {
	ref := r.conversations().Doc(entity.ConversationKey(customerID, storeID))

	var conv entity.Conversation
	var created bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		doc, err := tx.Get(ref)
		if err == nil {
			if err := doc.DataTo(&conv); err != nil {
				return err
			}
			if !conv.Pairs(customerID, storeID) {
				return errors.Conflict("Conversation key is held by another pair")
			}
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now()
		conv = entity.Conversation{
			ID:            ref.ID,
			CustomerID:    customerID,
			StoreID:       storeID,
			CreatedAt:     now,
			UpdatedAt:     now,
			LastMessageAt: now,
			UnreadCount:   map[string]int{customerID: 0, storeID: 0},
		}
		created = true
		return tx.Create(ref, conv)
	})
	if err != nil {
		if errors.Is(err, errors.CodeConflict) {
			return nil, false, err
		}
		return nil, false, errors.Persistence("Failed to find or create conversation", err)
	}
	return &conv, created, nil
}

func (r *firestoreConversationRepository) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Persistence("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	return &conv, nil
}

func (r *firestoreConversationRepository) ListConversationsByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.conversations().Where("customerId", "==", customerID).OrderBy("lastMessageAt", firestore.Desc)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for customer %s: %v", customerID, err)
		return nil, 0, errors.Persistence("Failed to fetch conversations", err)
	}

	convs := decodeConversations(docs)
	page := paginate(convs, limit, offset)
	return page, int64(len(convs)), nil
}

func (r *firestoreConversationRepository) ListConversationsByStores(ctx context.Context, storeIDs []string, limit, offset int) ([]*entity.Conversation, int64, error) {
	var convs []*entity.Conversation
	for start := 0; start < len(storeIDs); start += maxInValues {
		end := start + maxInValues
		if end > len(storeIDs) {
			end = len(storeIDs)
		}

		docs, err := r.conversations().Where("storeId", "in", storeIDs[start:end]).Documents(ctx).GetAll()
		if err != nil {
			logger.Error("Firestore error while fetching conversations for stores %v: %v", storeIDs[start:end], err)
			return nil, 0, errors.Persistence("Failed to fetch conversations", err)
		}
		convs = append(convs, decodeConversations(docs)...)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})

	page := paginate(convs, limit, offset)
	return page, int64(len(convs)), nil
}

func (r *firestoreConversationRepository) TouchConversation(ctx context.Context, id string, at time.Time, preview, recipientKey string) (*entity.Conversation, error) {
	ref := r.conversations().Doc(id)

	var conv entity.Conversation
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		conv = entity.Conversation{}
		if err := doc.DataTo(&conv); err != nil {
			return err
		}
		conv.Touch(at, preview, recipientKey)
		return tx.Set(ref, conv)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Persistence("Failed to update conversation", err)
	}
	return &conv, nil
}

func (r *firestoreConversationRepository) ResetUnread(ctx context.Context, id, key string) error {
	_, err := r.conversations().Doc(id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", key}, Value: 0},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Persistence("Failed to reset unread counter", err)
	}
	return nil
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	_, err := r.messages(message.ConversationID).Doc(message.ID).Create(ctx, message)
	if err != nil {
		return errors.Persistence("Failed to create message", err)
	}
	return nil
}

func (r *firestoreConversationRepository) GetMessage(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Persistence("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}

// UpdateMessage touches only the editable fields so a concurrent status
// advance from another instance is never rolled back.
func (r *firestoreConversationRepository) UpdateMessage(ctx context.Context, message *entity.Message) error {
	ref := r.messages(message.ConversationID).Doc(message.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored entity.Message
		if err := doc.DataTo(&stored); err != nil {
			return err
		}
		if stored.IsDeleted() {
			return errors.Conflict("Message has been deleted")
		}

		updates := []firestore.Update{
			{Path: "content", Value: message.Content},
			{Path: "attachmentRefs", Value: message.AttachmentRefs},
		}
		if message.EditedAt != nil {
			updates = append(updates, firestore.Update{Path: "editedAt", Value: *message.EditedAt})
		}
		if message.DeletedAt != nil {
			updates = append(updates, firestore.Update{Path: "deletedAt", Value: *message.DeletedAt})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", err)
		}
		if errors.Is(err, errors.CodeConflict) {
			return err
		}
		return errors.Persistence("Failed to update message", err)
	}
	return nil
}

func (r *firestoreConversationRepository) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, next entity.DeliveryStatus) (bool, error) {
	ref := r.messages(conversationID).Doc(messageID)

	var changed bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return err
		}
		if !message.Advance(next) {
			return nil
		}
		changed = true
		return tx.Update(ref, []firestore.Update{{Path: "status", Value: next}})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, errors.NotFound("Message", err)
		}
		return false, errors.Persistence("Failed to update message status", err)
	}
	return changed, nil
}

// AdvanceMessages reads and rewrites the matching messages inside one
// transaction so a read receipt is a single persistence call.
func (r *firestoreConversationRepository) AdvanceMessages(ctx context.Context, conversationID string, filter repository.MessageFilter, next entity.DeliveryStatus) ([]string, error) {
	query := r.messages(conversationID).Where("senderRole", "==", filter.AuthorRole)
	if len(filter.Statuses) > 0 {
		query = query.Where("status", "in", filter.Statuses)
	}

	var advanced []string
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		advanced = advanced[:0]
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var message entity.Message
			if err := doc.DataTo(&message); err != nil {
				return err
			}
			if !message.Advance(next) {
				continue
			}
			if err := tx.Update(doc.Ref, []firestore.Update{{Path: "status", Value: next}}); err != nil {
				return err
			}
			advanced = append(advanced, message.ID)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Persistence("Failed to advance message status", err)
	}
	return advanced, nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.messages(conversationID).OrderBy("createdAt", firestore.Desc)

	total, err := r.count(ctx, query)
	if err != nil {
		logger.Error("Firestore error while counting messages for conversation %s: %v", conversationID, err)
		return nil, 0, errors.Persistence("Failed to count messages", err)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, errors.Persistence("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, 0, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreConversationRepository) count(ctx context.Context, query firestore.Query) (int64, error) {
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, err
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, nil
	}
	return value.GetIntegerValue(), nil
}

func decodeConversations(docs []*firestore.DocumentSnapshot) []*entity.Conversation {
	convs := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		convs = append(convs, &conv)
	}
	return convs
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
