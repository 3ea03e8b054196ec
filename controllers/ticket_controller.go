package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/services/tickets"
)

// TicketController handles the admission-ticket CRUD endpoints
type TicketController struct {
	service *tickets.Service
}

// NewTicketController creates a new ticket controller
func NewTicketController(db *gorm.DB, logger *logrus.Logger) *TicketController {
	return &TicketController{service: tickets.NewService(db, logger)}
}

// GetTickets returns all tickets, newest first
// GET /api/v1/tickets
func (tc *TicketController) GetTickets(c *gin.Context) {
	items, err := tc.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// GetTicket returns a single ticket by id
// GET /api/v1/tickets/:id
func (tc *TicketController) GetTicket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ticket, err := tc.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch ticket"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

// CreateTicket stores a new ticket
// POST /api/v1/tickets
func (tc *TicketController) CreateTicket(c *gin.Context) {
	var input tickets.TicketInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := tc.service.Create(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "A ticket with this CPF already exists"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": ticket})
}

// UpdateTicket rewrites a ticket's fields
// PUT /api/v1/tickets/:id
func (tc *TicketController) UpdateTicket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var input tickets.TicketInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := tc.service.Update(c.Request.Context(), id, input)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

// DeleteTicket removes a ticket
// DELETE /api/v1/tickets/:id
func (tc *TicketController) DeleteTicket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := tc.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete ticket"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ticket deleted"})
}

// ValidateTicket marks a ticket as used at admission
// POST /api/v1/tickets/:id/validate
func (tc *TicketController) ValidateTicket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	username := c.GetString("username")

	ticket, err := tc.service.ValidateTicket(c.Request.Context(), id, username)
	if err != nil {
		switch {
		case errors.Is(err, tickets.ErrTicketNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		case errors.Is(err, tickets.ErrAlreadyValidated):
			c.JSON(http.StatusConflict, gin.H{"error": "Ticket already validated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate ticket"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket id"})
		return 0, false
	}
	return uint(id), true
}
