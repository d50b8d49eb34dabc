package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Rhymond/go-money"
	"github.com/campus-events/event-registration/events"
	"github.com/google/uuid"
)

var _ events.Repository = &DB{}

func (d *DB) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, version, name, creator_id, capacity, approved_count,
		       price_amount, price_currency, registration_close_time
		FROM events
		WHERE id = $1
	`
	var (
		event         events.Event
		priceAmount   sql.NullInt64
		priceCurrency sql.NullString
		closeTime     sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, query, id.String()).Scan(
		&event.ID, &event.Version, &event.Name, &event.CreatorID, &event.Capacity, &event.ApprovedCount,
		&priceAmount, &priceCurrency, &closeTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Event{}, events.NewEventNotFoundError(id)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return events.Event{}, events.NewTimeoutError(id, "GetEvent")
		}
		return events.Event{}, events.NewFailedToReadError(id, err)
	}

	if priceCurrency.Valid {
		event.Price = money.New(priceAmount.Int64, priceCurrency.String)
	}
	if closeTime.Valid {
		event.RegistrationCloseTime = closeTime.Time
	}

	return event, nil
}

func (d *DB) CreateEvent(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		priceAmount   sql.NullInt64
		priceCurrency sql.NullString
		closeTime     sql.NullTime
	)
	if event.Price != nil {
		priceAmount = sql.NullInt64{Int64: event.Price.Amount(), Valid: true}
		priceCurrency = sql.NullString{String: event.Price.Currency().Code, Valid: true}
	}
	if !event.RegistrationCloseTime.IsZero() {
		closeTime = sql.NullTime{Time: event.RegistrationCloseTime, Valid: true}
	}

	query := `
		INSERT INTO events (id, version, name, creator_id, capacity, approved_count,
		                    price_amount, price_currency, registration_close_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := d.db.ExecContext(ctx, query,
		event.ID.String(), event.Version, event.Name, event.CreatorID, event.Capacity, event.ApprovedCount,
		priceAmount, priceCurrency, closeTime,
	)
	if err != nil {
		if pgErrorCode(err) == uniqueViolation {
			return events.NewEventAlreadyExistsError(event.ID, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return events.NewTimeoutError(event.ID, "CreateEvent")
		}
		return events.NewFailedToWriteError(event.ID, err)
	}

	return nil
}
