package dto

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/google/uuid"
)

// CreateServerRequest provisions a server with its subscription
type CreateServerRequest struct {
	Name       string  `json:"name" binding:"required,min=1,max=64"`
	Plan       string  `json:"plan" binding:"required,min=1,max=64"`
	HourlyRate float64 `json:"hourly_rate" binding:"required,gt=0"`
}

// ServerResponse represents a provisioned server
type ServerResponse struct {
	ID         uuid.UUID `json:"id"`
	AccountID  uuid.UUID `json:"account_id"`
	Name       string    `json:"name"`
	Plan       string    `json:"plan"`
	HourlyRate string    `json:"hourly_rate"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewServerResponse maps a server to its API shape
func NewServerResponse(server *servers.Server) ServerResponse {
	return ServerResponse{
		ID:         server.ID,
		AccountID:  server.AccountID,
		Name:       server.Name,
		Plan:       server.Plan,
		HourlyRate: server.HourlyRate.String(),
		Status:     string(server.Status),
		CreatedAt:  server.CreatedAt,
	}
}

// NewServerResponses maps a server slice
func NewServerResponses(list []*servers.Server) []ServerResponse {
	out := make([]ServerResponse, len(list))
	for i, server := range list {
		out[i] = NewServerResponse(server)
	}
	return out
}

// ProvisionResponse bundles the server with its billing artifacts
type ProvisionResponse struct {
	Server       ServerResponse       `json:"server"`
	Subscription SubscriptionResponse `json:"subscription"`
	FirstPayment TransactionResponse  `json:"first_payment"`
}
