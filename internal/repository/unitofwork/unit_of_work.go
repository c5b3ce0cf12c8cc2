package unitofwork

import (
	"context"

	"research-chat-be/internal/repository/contract"
)

// UnitOfWork groups repository writes into one transaction
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	DocumentRepository() contract.DocumentRepository
	PassageRepository() contract.PassageRepository
}
