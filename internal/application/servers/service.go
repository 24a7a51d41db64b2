package servers

import (
	"context"
	"errors"
	"fmt"

	appbilling "github.com/orbitpanel/backend/internal/application/billing"
	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProvisionInput contains the input for server provisioning
type ProvisionInput struct {
	AccountID  uuid.UUID
	Name       string
	Plan       string
	HourlyRate decimal.Decimal
}

// ProvisionResult returns the new server with its billing subscription
type ProvisionResult struct {
	Server       *servers.Server
	Subscription *billing.Subscription
	FirstPayment *billing.Transaction
}

// Service is the server registry. Every server is created together with its
// billing subscription and deleted by cascading through it.
type Service struct {
	servers   servers.ServerRepository
	lifecycle *appbilling.LifecycleService
	compute   billing.ServerLifecycle
	logger    *zap.Logger
}

// NewService creates a new server service
func NewService(repo servers.ServerRepository, lifecycle *appbilling.LifecycleService, compute billing.ServerLifecycle, logger *zap.Logger) *Service {
	return &Service{
		servers:   repo,
		lifecycle: lifecycle,
		compute:   compute,
		logger:    logger,
	}
}

// Provision creates a server row and its subscription. The first billing
// cycle entry is scheduled immediately; the server starts running.
func (s *Service) Provision(ctx context.Context, principal shared.Principal, input ProvisionInput) (*ProvisionResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "servers", "provision")
	defer span.End()

	if !principal.CanAccessAccount(input.AccountID) {
		return nil, shared.ErrForbidden
	}

	server, err := servers.NewServer(input.AccountID, input.Name, input.Plan, input.HourlyRate)
	if err != nil {
		return nil, err
	}
	if err := s.servers.Save(ctx, server); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save server: %w", err)
	}

	subscription, firstPayment, err := s.lifecycle.Create(ctx, input.AccountID, server.ID, input.HourlyRate)
	if err != nil {
		// Roll back the registry row so a failed provision leaves nothing behind.
		if delErr := s.servers.Delete(ctx, server.ID); delErr != nil {
			s.logger.Error("Failed to roll back server after subscription failure",
				zap.String("server_id", server.ID.String()),
				zap.Error(delErr))
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	server.MarkRunning(subscription.CreatedAt)
	if err := s.servers.Save(ctx, server); err != nil {
		s.logger.Error("Failed to mark server running", zap.Error(err))
	}

	s.logger.Info("Server provisioned",
		zap.String("server_id", server.ID.String()),
		zap.String("account_id", input.AccountID.String()),
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("hourly_rate", input.HourlyRate.String()),
	)

	return &ProvisionResult{
		Server:       server,
		Subscription: subscription,
		FirstPayment: firstPayment,
	}, nil
}

// Get returns a single server, owner or admin only
func (s *Service) Get(ctx context.Context, principal shared.Principal, serverID uuid.UUID) (*servers.Server, error) {
	server, err := s.servers.FindByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccessAccount(server.AccountID) {
		return nil, shared.ErrForbidden
	}
	return server, nil
}

// List returns all servers of an account
func (s *Service) List(ctx context.Context, principal shared.Principal, accountID uuid.UUID) ([]*servers.Server, error) {
	if !principal.CanAccessAccount(accountID) {
		return nil, shared.ErrForbidden
	}
	return s.servers.FindByAccountID(ctx, accountID)
}

// Delete tears down a server and cascades its subscription. The compute
// resource goes first; if the cascade fails the registry row survives so the
// call can be retried.
func (s *Service) Delete(ctx context.Context, principal shared.Principal, serverID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "servers", "delete")
	defer span.End()

	server, err := s.servers.FindByID(ctx, serverID)
	if err != nil {
		return err
	}
	if !principal.CanAccessAccount(server.AccountID) {
		return shared.ErrForbidden
	}

	if err := s.compute.DeleteServer(ctx, serverID); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to tear down server: %w", err)
	}

	if err := s.lifecycle.CancelForServer(ctx, serverID); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if err := s.servers.Delete(ctx, serverID); err != nil && !errors.Is(err, shared.ErrNotFound) {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to delete server: %w", err)
	}

	s.logger.Info("Server deleted",
		zap.String("server_id", serverID.String()),
		zap.String("account_id", server.AccountID.String()))
	return nil
}
