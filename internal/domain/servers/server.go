package servers

import (
	"strings"
	"time"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServerStatus represents the lifecycle status of a provisioned server
type ServerStatus string

const (
	ServerStatusProvisioning ServerStatus = "PROVISIONING"
	ServerStatusRunning      ServerStatus = "RUNNING"
	ServerStatusSuspended    ServerStatus = "SUSPENDED"
	ServerStatusDeleted      ServerStatus = "DELETED"
)

// IsValid checks if the status is a valid ServerStatus
func (s ServerStatus) IsValid() bool {
	switch s {
	case ServerStatusProvisioning, ServerStatusRunning, ServerStatusSuspended, ServerStatusDeleted:
		return true
	}
	return false
}

// Server is a compute resource owned by an account. Each server is bound 1:1
// to a billing subscription for as long as it exists.
type Server struct {
	shared.BaseEntity
	AccountID  uuid.UUID
	Name       string
	Plan       string
	HourlyRate decimal.Decimal
	Status     ServerStatus
}

// NewServer creates a server in provisioning state
func NewServer(accountID uuid.UUID, name, plan string, hourlyRate decimal.Decimal) (*Server, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Server name must not be empty")
	}
	if hourlyRate.IsNegative() || hourlyRate.IsZero() {
		return nil, shared.NewDomainError("INVALID_PLAN", "Hourly rate must be positive")
	}
	return &Server{
		BaseEntity: shared.NewBaseEntity(),
		AccountID:  accountID,
		Name:       name,
		Plan:       plan,
		HourlyRate: hourlyRate,
		Status:     ServerStatusProvisioning,
	}, nil
}

// MarkRunning flags the server as provisioned and running
func (s *Server) MarkRunning(now time.Time) {
	s.Status = ServerStatusRunning
	s.Touch(now)
}

// MarkDeleted flags the server as torn down
func (s *Server) MarkDeleted(now time.Time) {
	s.Status = ServerStatusDeleted
	s.Touch(now)
}
