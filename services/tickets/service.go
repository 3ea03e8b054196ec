// Package tickets implements the admission-ticket subsystem: CRUD over sold
// tickets plus the validation performed at the door.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/models"
)

var (
	// ErrTicketNotFound reports an unknown ticket id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrAlreadyValidated reports a ticket that was already used at admission.
	ErrAlreadyValidated = errors.New("ticket already validated")
)

var (
	onlyLettersAndSpace = regexp.MustCompile(`^[a-zA-ZÀ-ÿ ]+$`)
	onlyNumbers         = regexp.MustCompile(`^[0-9]+$`)
)

// TicketInput carries the writable ticket fields.
type TicketInput struct {
	Name     string `json:"name" binding:"required"`
	CPF      string `json:"cpf" binding:"required"`
	Promoter string `json:"promoter"`
	Note     string `json:"note"`
	Active   *bool  `json:"active"`
}

// Validate checks the input format rules: name is letters and spaces only,
// CPF is exactly 11 digits, promoter (when present) is letters and spaces.
func (in *TicketInput) Validate() error {
	if !onlyLettersAndSpace.MatchString(in.Name) {
		return fmt.Errorf("name must contain only letters and spaces")
	}
	if len(in.CPF) != 11 || !onlyNumbers.MatchString(in.CPF) {
		return fmt.Errorf("cpf must be exactly 11 digits")
	}
	if in.Promoter != "" && !onlyLettersAndSpace.MatchString(in.Promoter) {
		return fmt.Errorf("promoter must contain only letters and spaces")
	}
	return nil
}

// Service owns ticket persistence and validation rules.
type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// List returns tickets newest first.
func (s *Service) List(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&tickets).Error
	return tickets, err
}

// Get returns one ticket by id.
func (s *Service) Get(ctx context.Context, id uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// Create stores a new ticket. A duplicate CPF surfaces as
// gorm.ErrDuplicatedKey.
func (s *Service) Create(ctx context.Context, in TicketInput) (*models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ticket := models.Ticket{
		Name:     in.Name,
		CPF:      in.CPF,
		Promoter: in.Promoter,
		Note:     in.Note,
		Active:   true,
	}
	if in.Active != nil {
		ticket.Active = *in.Active
	}

	if err := s.db.WithContext(ctx).Create(&ticket).Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Update rewrites the writable fields of an existing ticket.
func (s *Service) Update(ctx context.Context, id uint, in TicketInput) (*models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ticket.Name = in.Name
	ticket.CPF = in.CPF
	ticket.Promoter = in.Promoter
	ticket.Note = in.Note
	if in.Active != nil {
		ticket.Active = *in.Active
	}

	if err := s.db.WithContext(ctx).Save(ticket).Error; err != nil {
		return nil, err
	}
	return ticket, nil
}

// Delete removes a ticket.
func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Ticket{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// ValidateTicket marks a ticket as used at admission and records who did it.
// A ticket can only be validated once.
func (s *Service) ValidateTicket(ctx context.Context, id uint, username string) (*models.Ticket, error) {
	var ticket models.Ticket

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ticket, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTicketNotFound
			}
			return err
		}
		if ticket.IsValidated() {
			return ErrAlreadyValidated
		}

		ticket.Validated = true
		return tx.Save(&ticket).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"username":  username,
	}).Info("Ticket successfully validated")

	return &ticket, nil
}
