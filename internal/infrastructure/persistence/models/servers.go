package models

import (
	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServerModel is the persistence model for provisioned servers.
type ServerModel struct {
	BaseModel
	AccountID  uuid.UUID            `gorm:"type:uuid;not null;index"`
	Name       string               `gorm:"type:varchar(100);not null"`
	Plan       string               `gorm:"type:varchar(50);not null"`
	HourlyRate decimal.Decimal      `gorm:"type:decimal(18,6);not null"`
	Status     servers.ServerStatus `gorm:"type:varchar(20);not null;index"`
}

// TableName returns the table name for GORM
func (ServerModel) TableName() string {
	return "servers"
}

// ToDomain converts the persistence model to a domain Server.
func (m *ServerModel) ToDomain() *servers.Server {
	return &servers.Server{
		BaseEntity: m.BaseModel.ToDomain(),
		AccountID:  m.AccountID,
		Name:       m.Name,
		Plan:       m.Plan,
		HourlyRate: m.HourlyRate,
		Status:     m.Status,
	}
}

// FromDomain populates the persistence model from a domain Server.
func (m *ServerModel) FromDomain(s *servers.Server) {
	m.FromDomainBaseEntity(s.BaseEntity)
	m.AccountID = s.AccountID
	m.Name = s.Name
	m.Plan = s.Plan
	m.HourlyRate = s.HourlyRate
	m.Status = s.Status
}

// ServerModelFromDomain creates a new persistence model from a domain Server.
func ServerModelFromDomain(s *servers.Server) *ServerModel {
	m := &ServerModel{}
	m.FromDomain(s)
	return m
}
