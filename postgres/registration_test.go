package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/campus-events/event-registration/ptr"
	"github.com/campus-events/event-registration/registration"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registrationRowColumns = []string{"id", "version", "event_id", "user_id", "email", "status", "payment_reference", "created_at", "updated_at"}

func testRegistration() registration.Registration {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return registration.Registration{
		ID:               uuid.New(),
		Version:          1,
		EventID:          uuid.New(),
		UserID:           "user-a",
		Email:            "a@campus.edu",
		Status:           registration.PENDING,
		PaymentReference: ptr.To("pi_123"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func addRegistrationRow(rows *sqlmock.Rows, reg registration.Registration) *sqlmock.Rows {
	var paymentRef any
	if reg.PaymentReference != nil {
		paymentRef = *reg.PaymentReference
	}
	return rows.AddRow(reg.ID.String(), reg.Version, reg.EventID.String(), reg.UserID, reg.Email, reg.Status.String(), paymentRef, reg.CreatedAt, reg.UpdatedAt)
}

func requireReason(t *testing.T, err error, reason registration.ErrorReason) {
	t.Helper()

	var registrationErr *registration.Error
	require.ErrorAs(t, err, &registrationErr)
	assert.Equal(t, reason, registrationErr.Reason)
}

func TestCreateRegistration(t *testing.T) {
	ctx := context.Background()
	reg := testRegistration()

	tests := []struct {
		name       string
		mock       func(mock sqlmock.Sqlmock)
		wantReason registration.ErrorReason
	}{
		{
			name: "success",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO registrations`).
					WithArgs(reg.ID.String(), 1, reg.EventID.String(), "user-a", "a@campus.edu", "pending", "pi_123", reg.CreatedAt, reg.UpdatedAt).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "unique violation is already registered",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO registrations`).
					WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "registrations_event_user_key"})
			},
			wantReason: registration.REASON_REGISTRATION_ALREADY_EXISTS,
		},
		{
			name: "foreign key violation is a missing event",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO registrations`).
					WillReturnError(&pgconn.PgError{Code: "23503"})
			},
			wantReason: registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST,
		},
		{
			name: "other failure",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO registrations`).
					WillReturnError(errors.New("disk full"))
			},
			wantReason: registration.REASON_FAILED_TO_WRITE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.mock(mock)

			err := db.CreateRegistration(ctx, reg)
			if tt.wantReason != "" {
				requireReason(t, err, tt.wantReason)
				return
			}
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetRegistration(t *testing.T) {
	ctx := context.Background()
	reg := testRegistration()

	t.Run("by pair", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`FROM registrations WHERE event_id = \$1 AND user_id = \$2`).
			WithArgs(reg.EventID.String(), "user-a").
			WillReturnRows(addRegistrationRow(sqlmock.NewRows(registrationRowColumns), reg))

		got, err := db.GetRegistration(ctx, reg.EventID, "user-a")
		require.NoError(t, err)
		if diff := cmp.Diff(reg, got); diff != "" {
			t.Errorf("GetRegistration() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("by id without payment reference", func(t *testing.T) {
		free := reg
		free.PaymentReference = nil
		db, mock := newMockDB(t)
		mock.ExpectQuery(`FROM registrations WHERE id = \$1`).
			WithArgs(reg.ID.String()).
			WillReturnRows(addRegistrationRow(sqlmock.NewRows(registrationRowColumns), free))

		got, err := db.GetRegistrationByID(ctx, reg.ID)
		require.NoError(t, err)
		assert.Nil(t, got.PaymentReference)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`FROM registrations WHERE id = \$1`).
			WillReturnError(sql.ErrNoRows)

		_, err := db.GetRegistrationByID(ctx, reg.ID)
		requireReason(t, err, registration.REASON_REGISTRATION_DOES_NOT_EXIST)
	})

	t.Run("unknown stored status", func(t *testing.T) {
		bad := reg
		bad.Status = "waitlisted"
		db, mock := newMockDB(t)
		mock.ExpectQuery(`FROM registrations WHERE id = \$1`).
			WillReturnRows(addRegistrationRow(sqlmock.NewRows(registrationRowColumns), bad))

		_, err := db.GetRegistrationByID(ctx, reg.ID)
		requireReason(t, err, registration.REASON_FAILED_TO_TRANSLATE_TO_DB_MODEL)
	})
}

func TestUpdateRegistrationStatus(t *testing.T) {
	ctx := context.Background()
	approved := testRegistration()
	approved.Status = registration.APPROVED
	approved.Version = 2

	t.Run("status and counter in one transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE registrations`).
			WithArgs("approved", 2, approved.UpdatedAt, approved.ID.String(), "pending", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE events`).
			WithArgs(1, approved.EventID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, db.UpdateRegistrationStatus(ctx, approved, registration.PENDING, 1))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero delta skips the event", func(t *testing.T) {
		rejected := approved
		rejected.Status = registration.REJECTED
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE registrations`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, db.UpdateRegistrationStatus(ctx, rejected, registration.PENDING, 0))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale row is a conflict and rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE registrations`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := db.UpdateRegistrationStatus(ctx, approved, registration.PENDING, 1)
		requireReason(t, err, registration.REASON_STATUS_CONFLICT)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing event rolls back the status", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE registrations`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE events`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := db.UpdateRegistrationStatus(ctx, approved, registration.PENDING, 1)
		requireReason(t, err, registration.REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE registrations`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE events`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := db.UpdateRegistrationStatus(ctx, approved, registration.PENDING, 1)
		requireReason(t, err, registration.REASON_FAILED_TO_WRITE)
	})
}

func TestListRegistrations(t *testing.T) {
	ctx := context.Background()
	eventId := uuid.New()

	regs := make([]registration.Registration, 3)
	for i := range regs {
		regs[i] = testRegistration()
		regs[i].EventID = eventId
		regs[i].UserID = fmt.Sprintf("user-%d", i)
		regs[i].CreatedAt = regs[i].CreatedAt.Add(time.Duration(i) * time.Minute)
	}

	t.Run("first page has a cursor", func(t *testing.T) {
		db, mock := newMockDB(t)
		rows := sqlmock.NewRows(registrationRowColumns)
		for _, reg := range regs {
			addRegistrationRow(rows, reg)
		}
		mock.ExpectQuery(`WHERE event_id = \$1\s+ORDER BY created_at, id\s+LIMIT \$2`).
			WithArgs(eventId.String(), 3).
			WillReturnRows(rows)

		resp, err := db.ListRegistrations(ctx, eventId, 2, nil)
		require.NoError(t, err)

		assert.True(t, resp.HasNextPage)
		require.Len(t, resp.Data, 2)
		require.NotNil(t, resp.Cursor)

		after, err := decodeCursor(*resp.Cursor)
		require.NoError(t, err)
		assert.Equal(t, regs[1].ID, after.ID)
		assert.True(t, regs[1].CreatedAt.Equal(after.CreatedAt))
	})

	t.Run("next page resumes after the cursor", func(t *testing.T) {
		cursor, err := encodeCursor(regs[1])
		require.NoError(t, err)

		db, mock := newMockDB(t)
		mock.ExpectQuery(`\(created_at, id\) > \(\$2, \$3\)`).
			WithArgs(eventId.String(), sqlmock.AnyArg(), regs[1].ID.String(), 3).
			WillReturnRows(addRegistrationRow(sqlmock.NewRows(registrationRowColumns), regs[2]))

		resp, err := db.ListRegistrations(ctx, eventId, 2, &cursor)
		require.NoError(t, err)

		assert.False(t, resp.HasNextPage)
		assert.Nil(t, resp.Cursor)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "user-2", resp.Data[0].UserID)
	})

	t.Run("bad cursor", func(t *testing.T) {
		db, _ := newMockDB(t)

		_, err := db.ListRegistrations(ctx, eventId, 2, ptr.To("%%%"))
		requireReason(t, err, registration.REASON_INVALID_CURSOR)
	})
}
