package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

type firestoreIdentityRepository struct {
	client *firestore.Client
}

func NewFirestoreIdentityRepository(client *firestore.Client) repository.IdentityRepository {
	return &firestoreIdentityRepository{
		client: client,
	}
}

func (r *firestoreIdentityRepository) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	doc, err := r.client.Collection("customers").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Customer", err)
		}
		return nil, errors.Persistence("Failed to get customer", err)
	}

	var customer entity.Customer
	if err := doc.DataTo(&customer); err != nil {
		return nil, errors.Internal("Failed to parse customer data", err)
	}
	customer.ID = doc.Ref.ID
	return &customer, nil
}

func (r *firestoreIdentityRepository) GetOperator(ctx context.Context, id string) (*entity.Operator, error) {
	doc, err := r.client.Collection("merchants").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Store operator", err)
		}
		return nil, errors.Persistence("Failed to get store operator", err)
	}

	var operator entity.Operator
	if err := doc.DataTo(&operator); err != nil {
		return nil, errors.Internal("Failed to parse store operator data", err)
	}
	operator.ID = doc.Ref.ID
	return &operator, nil
}

// ListStoreOperators prefers the store's operator list and falls back to
// scanning merchants that reference the store.
func (r *firestoreIdentityRepository) ListStoreOperators(ctx context.Context, storeID string) ([]string, error) {
	doc, err := r.client.Collection("stores").Doc(storeID).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, errors.Persistence("Failed to get store", err)
	}
	if err == nil {
		var store entity.Store
		if err := doc.DataTo(&store); err == nil && len(store.OperatorIDs) > 0 {
			return store.OperatorIDs, nil
		}
	}

	docs, err := r.client.Collection("merchants").Where("storeIds", "array-contains", storeID).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Persistence("Failed to query store operators", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Ref.ID)
	}
	return ids, nil
}
