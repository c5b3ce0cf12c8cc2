package unitofwork

import "context"

// RepositoryFactory hands out one UnitOfWork per seeding batch
type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}
