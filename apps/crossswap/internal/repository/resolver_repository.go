package repository

import (
	"context"
	"crossswap/apps/crossswap/internal/model"
	"database/sql"
	"fmt"
	"go.uber.org/zap"
)

type ResolverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewResolverRepository(db *sql.DB, logger *zap.Logger) *ResolverRepository {
	return &ResolverRepository{db: db, logger: logger}
}

func (r *ResolverRepository) SaveResolver(ctx context.Context, resolver model.Resolver) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resolvers (address, name, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET name = EXCLUDED.name
	`, resolver.Address, resolver.Name, resolver.RegisteredAt)

	if err != nil {
		return fmt.Errorf("failed to save resolver: %w", err)
	}

	r.logger.Info("Saved resolver",
		zap.String("resolver", resolver.Address),
		zap.String("name", resolver.Name))
	return nil
}

func (r *ResolverRepository) GetAllResolvers(ctx context.Context) ([]model.Resolver, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, name, registered_at
		FROM resolvers
		ORDER BY registered_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get resolvers: %w", err)
	}
	defer rows.Close()

	var resolvers []model.Resolver
	for rows.Next() {
		var res model.Resolver
		if err := rows.Scan(&res.Address, &res.Name, &res.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan resolver: %w", err)
		}
		resolvers = append(resolvers, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolvers: %w", err)
	}

	return resolvers, nil
}

// Store persists relayer state across the swap and resolver tables.
type Store struct {
	*SwapRepository
	*ResolverRepository
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		SwapRepository:     NewSwapRepository(db, logger),
		ResolverRepository: NewResolverRepository(db, logger),
	}
}
