package materials

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the read side of the stock tables: on-hand quantity and
// availability per reference.
type Service interface {
	Stock(ctx context.Context, ref Ref) (Stock, error)
	List(ctx context.Context, typ enums.MaterialType, limit, offset int) ([]Stock, error)
}

type service struct {
	tx       txRunner
	registry *Registry
}

func NewService(tx txRunner, registry *Registry) Service {
	if registry == nil {
		registry = NewRegistry()
	}
	return &service{tx: tx, registry: registry}
}

func (s *service) Stock(ctx context.Context, ref Ref) (Stock, error) {
	if err := ref.Validate(); err != nil {
		return Stock{}, err
	}
	var out Stock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		stock, err := s.registry.Get(tx, ref)
		out = stock
		return err
	})
	return out, err
}

func (s *service) List(ctx context.Context, typ enums.MaterialType, limit, offset int) ([]Stock, error) {
	var out []Stock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.registry.List(tx, typ, pagination.NormalizeLimit(limit), max(offset, 0))
		out = rows
		return err
	})
	return out, err
}
