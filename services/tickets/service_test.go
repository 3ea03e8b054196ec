package tickets

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"crypto_indicators_backend/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, models.MigrateTicketModels(db))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewService(db, logger)
}

func validInput() TicketInput {
	return TicketInput{
		Name:     "Maria Silva",
		CPF:      "12345678901",
		Promoter: "Carlos",
		Note:     "vip table",
	}
}

func TestTicketInputValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*TicketInput)
		wantErr string
	}{
		{"valid", func(in *TicketInput) {}, ""},
		{"accented name", func(in *TicketInput) { in.Name = "José Conceição" }, ""},
		{"name with digits", func(in *TicketInput) { in.Name = "Maria 2" }, "name"},
		{"short cpf", func(in *TicketInput) { in.CPF = "123" }, "cpf"},
		{"cpf with letters", func(in *TicketInput) { in.CPF = "1234567890a" }, "cpf"},
		{"promoter with digits", func(in *TicketInput) { in.Promoter = "Carlos 99" }, "promoter"},
		{"empty promoter ok", func(in *TicketInput) { in.Promoter = "" }, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			err := in.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestCreateUppercasesNameAndDefaultsActive(t *testing.T) {
	svc := newTestService(t)

	ticket, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "MARIA SILVA", ticket.Name)
	assert.True(t, ticket.Active)
	assert.False(t, ticket.Validated)
}

func TestCreateDuplicateCPF(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Name = "Outro Nome"
	_, err = svc.Create(ctx, in)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestGetAndListAndDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	second := validInput()
	second.Name = "Ana Souza"
	second.CPF = "98765432100"
	_, err = svc.Create(ctx, second)
	require.NoError(t, err)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CPF, got.CPF)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, svc.Delete(ctx, first.ID))
	_, err = svc.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, first.ID), ErrTicketNotFound)
}

func TestUpdateRewritesFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(ctx, created.ID, TicketInput{
		Name:   "Maria Souza",
		CPF:    created.CPF,
		Note:   "moved to second batch",
		Active: &inactive,
	})
	require.NoError(t, err)

	assert.Equal(t, "MARIA SOUZA", updated.Name)
	assert.False(t, updated.Active)
	assert.Empty(t, updated.Promoter)
	assert.Equal(t, "moved to second batch", updated.Note)
}

func TestUpdateUnknownTicket(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Update(context.Background(), 42, validInput())
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestValidateTicketOnlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	validated, err := svc.ValidateTicket(ctx, created.ID, "admin")
	require.NoError(t, err)
	assert.True(t, validated.Validated)

	_, err = svc.ValidateTicket(ctx, created.ID, "admin")
	assert.ErrorIs(t, err, ErrAlreadyValidated)
}

func TestValidateUnknownTicket(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ValidateTicket(context.Background(), 7, "admin")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}
