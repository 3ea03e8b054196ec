package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Ticket represents an admission ticket sold for an event
type Ticket struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Active    bool      `gorm:"default:true" json:"active"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CPF       string    `gorm:"size:11;uniqueIndex;not null" json:"cpf"`
	Promoter  string    `gorm:"size:50" json:"promoter"`
	Note      string    `gorm:"type:text" json:"note"`
	Validated bool      `gorm:"default:false" json:"validated"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeSave normalizes the holder name to uppercase
func (t *Ticket) BeforeSave(tx *gorm.DB) error {
	t.Name = strings.ToUpper(t.Name)
	return nil
}

// IsValidated reports whether the ticket was already used at admission
func (t *Ticket) IsValidated() bool {
	return t.Validated
}

// MigrateTicketModels runs database migrations for ticket-related models
func MigrateTicketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Ticket{},
	)
}
