package repository

import (
	"context"

	"marketchat/internal/domain/entity"
)

// IdentityRepository resolves customers and store operators.
type IdentityRepository interface {
	GetCustomer(ctx context.Context, id string) (*entity.Customer, error)
	GetOperator(ctx context.Context, id string) (*entity.Operator, error)
	ListStoreOperators(ctx context.Context, storeID string) ([]string, error)
}
