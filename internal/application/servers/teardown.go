package servers

import (
	"context"
	"errors"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Teardown implements the server teardown the billing engine cascades to
// when a subscription expires: the compute resource is destroyed and the
// registry row is marked deleted. An already-gone registry row is fine,
// expiry retries must stay idempotent.
type Teardown struct {
	agent   billing.ServerLifecycle
	servers servers.ServerRepository
	logger  *zap.Logger
}

// NewTeardown wraps the compute agent with registry bookkeeping
func NewTeardown(agent billing.ServerLifecycle, repo servers.ServerRepository, logger *zap.Logger) *Teardown {
	return &Teardown{
		agent:   agent,
		servers: repo,
		logger:  logger,
	}
}

// DeleteServer destroys the compute resource and retires the registry row
func (t *Teardown) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	if err := t.agent.DeleteServer(ctx, serverID); err != nil {
		return err
	}

	server, err := t.servers.FindByID(ctx, serverID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := t.servers.Delete(ctx, server.ID); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	t.logger.Info("Server torn down", zap.String("server_id", serverID.String()))
	return nil
}
