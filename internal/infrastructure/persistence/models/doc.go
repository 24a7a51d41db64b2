// Package models contains the GORM persistence models. They mirror the
// domain entities one to one and convert through ToDomain/FromDomain so the
// domain layer stays free of persistence tags.
package models
