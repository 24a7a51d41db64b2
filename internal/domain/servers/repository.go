package servers

import (
	"context"

	"github.com/google/uuid"
)

// ServerRepository is the durable store for server records
type ServerRepository interface {
	Save(ctx context.Context, server *Server) error
	FindByID(ctx context.Context, id uuid.UUID) (*Server, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*Server, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
