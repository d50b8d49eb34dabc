package registration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/campus-events/event-registration/events"
	"github.com/campus-events/event-registration/payments"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEventRepository struct {
	events.Repository
	GetEventFunc func(ctx context.Context, id uuid.UUID) (events.Event, error)
}

func (m *mockEventRepository) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	return m.GetEventFunc(ctx, id)
}

var _ Repository = &mockRegistrationRepository{}

type mockRegistrationRepository struct {
	CreateRegistrationFunc       func(ctx context.Context, registration Registration) error
	GetRegistrationFunc          func(ctx context.Context, eventId uuid.UUID, userId string) (Registration, error)
	GetRegistrationByIDFunc      func(ctx context.Context, id uuid.UUID) (Registration, error)
	UpdateRegistrationStatusFunc func(ctx context.Context, registration Registration, fromStatus Status, approvedDelta int) error
	ListRegistrationsFunc        func(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (ListRegistrationsResponse, error)
}

func (m *mockRegistrationRepository) CreateRegistration(ctx context.Context, registration Registration) error {
	if m.CreateRegistrationFunc != nil {
		return m.CreateRegistrationFunc(ctx, registration)
	}
	return nil
}

func (m *mockRegistrationRepository) GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (Registration, error) {
	if m.GetRegistrationFunc != nil {
		return m.GetRegistrationFunc(ctx, eventId, userId)
	}
	return Registration{}, NewRegistrationDoesNotExistsError("not found", nil)
}

func (m *mockRegistrationRepository) GetRegistrationByID(ctx context.Context, id uuid.UUID) (Registration, error) {
	if m.GetRegistrationByIDFunc != nil {
		return m.GetRegistrationByIDFunc(ctx, id)
	}
	return Registration{}, NewRegistrationDoesNotExistsError("not found", nil)
}

func (m *mockRegistrationRepository) UpdateRegistrationStatus(ctx context.Context, registration Registration, fromStatus Status, approvedDelta int) error {
	if m.UpdateRegistrationStatusFunc != nil {
		return m.UpdateRegistrationStatusFunc(ctx, registration, fromStatus, approvedDelta)
	}
	return nil
}

func (m *mockRegistrationRepository) ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (ListRegistrationsResponse, error) {
	return m.ListRegistrationsFunc(ctx, eventId, limit, cursor)
}

type mockCheckoutSessionCreator struct {
	CreateCheckoutFunc func(ctx context.Context, event events.Event, registrant Registrant) (string, error)
}

func (m *mockCheckoutSessionCreator) CreateCheckout(ctx context.Context, event events.Event, registrant Registrant) (string, error) {
	return m.CreateCheckoutFunc(ctx, event, registrant)
}

var _ payments.CheckoutManager = &mockCheckoutManager{}

type mockCheckoutManager struct {
	CreateCheckoutFunc  func(ctx context.Context, params payments.CheckoutParams) (payments.CheckoutInfo, error)
	ConfirmCheckoutFunc func(ctx context.Context, payload []byte, signature string) (payments.WebhookEvent, error)
}

func (m *mockCheckoutManager) CreateCheckout(ctx context.Context, params payments.CheckoutParams) (payments.CheckoutInfo, error) {
	return m.CreateCheckoutFunc(ctx, params)
}

func (m *mockCheckoutManager) ConfirmCheckout(ctx context.Context, payload []byte, signature string) (payments.WebhookEvent, error) {
	return m.ConfirmCheckoutFunc(ctx, payload, signature)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, change StatusChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

func (d *recordingDispatcher) Changes() []StatusChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]StatusChange(nil), d.changes...)
}

type registrationKey struct {
	eventId uuid.UUID
	userId  string
}

var (
	_ Repository        = &memoryStore{}
	_ events.Repository = &memoryStore{}
)

// memoryStore enforces the same uniqueness and compare-and-swap rules as the
// real stores so races can be exercised without a database.
type memoryStore struct {
	mu            sync.Mutex
	events        map[uuid.UUID]events.Event
	registrations map[uuid.UUID]Registration
	byPair        map[registrationKey]uuid.UUID

	// beforeCreate runs after the uniqueness check has been passed by the
	// pre-read in the caller, to let tests inject a concurrent writer.
	beforeCreate func()
}

func newMemoryStore(evts ...events.Event) *memoryStore {
	s := &memoryStore{
		events:        map[uuid.UUID]events.Event{},
		registrations: map[uuid.UUID]Registration{},
		byPair:        map[registrationKey]uuid.UUID{},
	}
	for _, e := range evts {
		s.events[e.ID] = e
	}
	return s
}

func (s *memoryStore) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return events.Event{}, events.NewEventNotFoundError(id)
	}
	return e, nil
}

func (s *memoryStore) CreateEvent(ctx context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = event
	return nil
}

func (s *memoryStore) CreateRegistration(ctx context.Context, registration Registration) error {
	if s.beforeCreate != nil {
		hook := s.beforeCreate
		s.beforeCreate = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := registrationKey{registration.EventID, registration.UserID}
	if _, ok := s.byPair[key]; ok {
		return NewRegistrationAlreadyExistsError("duplicate", nil)
	}
	s.byPair[key] = registration.ID
	s.registrations[registration.ID] = registration
	return nil
}

func (s *memoryStore) GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[registrationKey{eventId, userId}]
	if !ok {
		return Registration{}, NewRegistrationDoesNotExistsError("no registration", nil)
	}
	return s.registrations[id], nil
}

func (s *memoryStore) GetRegistrationByID(ctx context.Context, id uuid.UUID) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return Registration{}, NewRegistrationDoesNotExistsError("no registration", nil)
	}
	return reg, nil
}

func (s *memoryStore) UpdateRegistrationStatus(ctx context.Context, registration Registration, fromStatus Status, approvedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.registrations[registration.ID]
	if !ok || stored.Status != fromStatus || stored.Version != registration.Version-1 {
		return NewStatusConflictError("stale", nil)
	}
	s.registrations[registration.ID] = registration

	e := s.events[registration.EventID]
	e.ApprovedCount += approvedDelta
	s.events[registration.EventID] = e
	return nil
}

// ListRegistrations pages in creation order. The cursor is the index of the
// next item.
func (s *memoryStore) ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (ListRegistrationsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Registration
	for _, reg := range s.registrations {
		if reg.EventID == eventId {
			all = append(all, reg)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := 0
	if cursor != nil {
		var err error
		start, err = strconv.Atoi(*cursor)
		if err != nil || start > len(all) {
			return ListRegistrationsResponse{}, NewInvalidCursorError("bad cursor", err)
		}
	}

	end := min(start+int(limit), len(all))
	resp := ListRegistrationsResponse{Data: all[start:end], HasNextPage: end < len(all)}
	if resp.HasNextPage {
		next := strconv.Itoa(end)
		resp.Cursor = &next
	}
	return resp, nil
}

func (s *memoryStore) approvedCount(eventId uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventId].ApprovedCount
}

// countApproved is the ground truth the stored counter must always match.
func (s *memoryStore) countApproved(eventId uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, reg := range s.registrations {
		if reg.EventID == eventId && reg.Status == APPROVED {
			n++
		}
	}
	return n
}

func (s *memoryStore) registrationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registrations)
}

func assertReason(t *testing.T, err error, reason ErrorReason) *Error {
	t.Helper()

	require.Error(t, err)
	var registrationErr *Error
	require.True(t, errors.As(err, &registrationErr), "expected *registration.Error, got %T: %v", err, err)
	assert.Equal(t, reason, registrationErr.Reason)
	return registrationErr
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "approved", "rejected"} {
		t.Run(s, func(t *testing.T) {
			status, err := ParseStatus(s)
			assert.NoError(t, err)
			assert.Equal(t, s, status.String())
		})
	}

	for _, s := range []string{"", "APPROVED", "cancelled", "not_registered"} {
		t.Run(fmt.Sprintf("invalid %q", s), func(t *testing.T) {
			_, err := ParseStatus(s)
			assertReason(t, err, REASON_INVALID_STATUS)
		})
	}
}

func TestGetAssociatedEvent(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		expected ErrorReason
	}{
		{"missing event", events.NewEventNotFoundError(uuid.Nil), REASON_ASSOCIATED_EVENT_DOES_NOT_EXIST},
		{"timeout", events.NewTimeoutError(uuid.Nil, "GetEvent"), REASON_TIMEOUT},
		{"other events error", events.NewFailedToReadError(uuid.Nil, errors.New("boom")), REASON_FAILED_TO_FETCH},
		{"plain error", errors.New("boom"), REASON_FAILED_TO_FETCH},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eventRepo := &mockEventRepository{
				GetEventFunc: func(ctx context.Context, id uuid.UUID) (events.Event, error) {
					return events.Event{}, tc.repoErr
				},
			}

			_, err := getAssociatedEvent(context.Background(), eventRepo, uuid.New())
			assertReason(t, err, tc.expected)
		})
	}
}

func TestNewPendingRegistration(t *testing.T) {
	now := time.Now()
	eventId := uuid.New()

	reg := newPendingRegistration(eventId, Registrant{UserID: "u1", Email: "u1@campus.edu"}, nil, now)

	assert.NotEqual(t, uuid.Nil, reg.ID)
	assert.Equal(t, 1, reg.Version)
	assert.Equal(t, eventId, reg.EventID)
	assert.Equal(t, PENDING, reg.Status)
	assert.Nil(t, reg.PaymentReference)
	assert.Equal(t, now, reg.CreatedAt)
	assert.Equal(t, now, reg.UpdatedAt)
}
