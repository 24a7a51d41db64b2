package models

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/identity"
)

// AccountModel is the persistence model for panel accounts.
type AccountModel struct {
	BaseModel
	Username     string                 `gorm:"type:varchar(32);not null;uniqueIndex"`
	Email        string                 `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string                 `gorm:"type:varchar(255);not null"`
	Role         identity.AccountRole   `gorm:"type:varchar(20);not null;default:'user'"`
	Status       identity.AccountStatus `gorm:"type:varchar(20);not null;default:'active'"`
	LastLoginAt  *time.Time
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account.
func (m *AccountModel) ToDomain() *identity.Account {
	return &identity.Account{
		BaseEntity:   m.BaseModel.ToDomain(),
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         m.Role,
		Status:       m.Status,
		LastLoginAt:  m.LastLoginAt,
	}
}

// FromDomain populates the persistence model from a domain Account.
func (m *AccountModel) FromDomain(a *identity.Account) {
	m.FromDomainBaseEntity(a.BaseEntity)
	m.Username = a.Username
	m.Email = a.Email
	m.PasswordHash = a.PasswordHash
	m.Role = a.Role
	m.Status = a.Status
	m.LastLoginAt = a.LastLoginAt
}

// AccountModelFromDomain creates a new persistence model from a domain Account.
func AccountModelFromDomain(a *identity.Account) *AccountModel {
	m := &AccountModel{}
	m.FromDomain(a)
	return m
}
