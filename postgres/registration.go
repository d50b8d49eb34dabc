package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campus-events/event-registration/registration"
	"github.com/google/uuid"
)

var _ registration.Repository = &DB{}

const registrationColumns = `id, version, event_id, user_id, email, status, payment_reference, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (registration.Registration, error) {
	var (
		reg        registration.Registration
		status     string
		paymentRef sql.NullString
	)
	err := row.Scan(&reg.ID, &reg.Version, &reg.EventID, &reg.UserID, &reg.Email, &status, &paymentRef, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return registration.Registration{}, err
	}

	reg.Status, err = registration.ParseStatus(status)
	if err != nil {
		return registration.Registration{}, err
	}
	if paymentRef.Valid {
		reg.PaymentReference = &paymentRef.String
	}
	return reg, nil
}

func (d *DB) CreateRegistration(ctx context.Context, reg registration.Registration) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var paymentRef sql.NullString
	if reg.PaymentReference != nil {
		paymentRef = sql.NullString{String: *reg.PaymentReference, Valid: true}
	}

	query := `
		INSERT INTO registrations (` + registrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := d.db.ExecContext(ctx, query,
		reg.ID.String(), reg.Version, reg.EventID.String(), reg.UserID, reg.Email, reg.Status.String(), paymentRef, reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		switch {
		case pgErrorCode(err) == uniqueViolation:
			return registration.NewRegistrationAlreadyExistsError(fmt.Sprintf("User %q is already registered for event %q", reg.UserID, reg.EventID), err)
		case pgErrorCode(err) == foreignKeyViolation:
			return registration.NewAssociatedEventDoesNotExistError(fmt.Sprintf("Event with ID %q does not exist", reg.EventID), err)
		case errors.Is(err, context.DeadlineExceeded):
			return registration.NewTimeoutError("CreateRegistration timed out")
		default:
			return registration.NewFailedToWriteError("Failed to insert registration", err)
		}
	}

	return nil
}

func (d *DB) GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (registration.Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND user_id = $2`
	reg, err := scanRegistration(d.db.QueryRowContext(ctx, query, eventId.String(), userId))
	if err != nil {
		return registration.Registration{}, translateFetchError(err, fmt.Sprintf("registration for event %q and user %q", eventId, userId))
	}
	return reg, nil
}

func (d *DB) GetRegistrationByID(ctx context.Context, id uuid.UUID) (registration.Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	reg, err := scanRegistration(d.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		return registration.Registration{}, translateFetchError(err, fmt.Sprintf("registration with ID %q", id))
	}
	return reg, nil
}

func translateFetchError(err error, what string) error {
	var registrationErr *registration.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return registration.NewRegistrationDoesNotExistsError(fmt.Sprintf("No %s", what), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return registration.NewTimeoutError(fmt.Sprintf("Fetching %s timed out", what))
	case errors.As(err, &registrationErr):
		return registration.NewFailedToTranslateToDBModelError(fmt.Sprintf("Stored %s is malformed", what), err)
	default:
		return registration.NewFailedToFetchError(fmt.Sprintf("Failed to fetch %s", what), err)
	}
}

// UpdateRegistrationStatus relies on the row lock taken by UPDATE: a
// concurrent writer blocks, then re-checks the WHERE clause against the
// committed row and matches nothing.
func (d *DB) UpdateRegistrationStatus(ctx context.Context, reg registration.Registration, fromStatus registration.Status, approvedDelta int) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return translateWriteError(err, "Failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE registrations
		SET status = $1, version = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND version = $6
	`, reg.Status.String(), reg.Version, reg.UpdatedAt, reg.ID.String(), fromStatus.String(), reg.Version-1)
	if err != nil {
		return translateWriteError(err, "Failed to update registration status")
	}
	if n, err := res.RowsAffected(); err != nil {
		return translateWriteError(err, "Failed to read updated row count")
	} else if n == 0 {
		return registration.NewStatusConflictError(fmt.Sprintf("Registration %q is no longer %s at version %d", reg.ID, fromStatus, reg.Version-1), nil)
	}

	if approvedDelta != 0 {
		res, err = tx.ExecContext(ctx, `
			UPDATE events
			SET approved_count = approved_count + $1, version = version + 1
			WHERE id = $2
		`, approvedDelta, reg.EventID.String())
		if err != nil {
			return translateWriteError(err, "Failed to update approved count")
		}
		if n, err := res.RowsAffected(); err != nil {
			return translateWriteError(err, "Failed to read updated row count")
		} else if n == 0 {
			return registration.NewAssociatedEventDoesNotExistError(fmt.Sprintf("Event with ID %q does not exist", reg.EventID), nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return translateWriteError(err, "Failed to commit status change")
	}
	return nil
}

func translateWriteError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return registration.NewTimeoutError(message + ": timed out")
	}
	return registration.NewFailedToWriteError(message, err)
}

type pageCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        uuid.UUID `json:"i"`
}

func encodeCursor(reg registration.Registration) (string, error) {
	b, err := json.Marshal(pageCursor{CreatedAt: reg.CreatedAt, ID: reg.ID})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeCursor(cursor string) (pageCursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return pageCursor{}, fmt.Errorf("failed to b64 decode: %w", err)
	}
	var c pageCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return pageCursor{}, fmt.Errorf("failed to json decode: %w", err)
	}
	return c, nil
}

func (d *DB) ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (registration.ListRegistrationsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	// Fetch 1 more than limit to check if there is another page or not
	if cursor == nil {
		rows, err = d.db.QueryContext(ctx, `
			SELECT `+registrationColumns+` FROM registrations
			WHERE event_id = $1
			ORDER BY created_at, id
			LIMIT $2
		`, eventId.String(), limit+1)
	} else {
		after, decodeErr := decodeCursor(*cursor)
		if decodeErr != nil {
			return registration.ListRegistrationsResponse{}, registration.NewInvalidCursorError("Invalid cursor", decodeErr)
		}
		rows, err = d.db.QueryContext(ctx, `
			SELECT `+registrationColumns+` FROM registrations
			WHERE event_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT $4
		`, eventId.String(), after.CreatedAt, after.ID.String(), limit+1)
	}
	if err != nil {
		return registration.ListRegistrationsResponse{}, translateFetchError(err, fmt.Sprintf("registrations for event %q", eventId))
	}
	defer rows.Close()

	regs := make([]registration.Registration, 0, limit)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return registration.ListRegistrationsResponse{}, translateFetchError(err, fmt.Sprintf("registrations for event %q", eventId))
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return registration.ListRegistrationsResponse{}, translateFetchError(err, fmt.Sprintf("registrations for event %q", eventId))
	}

	hasNextPage := len(regs) > int(limit)
	regs = regs[:min(int(limit), len(regs))]

	var newCursor *string
	if hasNextPage {
		c, err := encodeCursor(regs[len(regs)-1])
		if err != nil {
			panic(fmt.Sprintf("failed to make cursor: %s", err))
		}
		newCursor = &c
	}

	return registration.ListRegistrationsResponse{
		Data:        regs,
		Cursor:      newCursor,
		HasNextPage: hasNextPage,
	}, nil
}
