package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/campus-events/event-registration/events"
	"github.com/campus-events/event-registration/payments"
	"github.com/campus-events/event-registration/registration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var noopLogger = slog.New(slog.DiscardHandler)

const (
	creatorToken  = "creator-token"
	studentToken  = "student-token"
	adminToken    = "admin-token"
	creatorUserId = "creator-1"
	studentUserId = "student-1"
)

type mockTokenVerifier struct {
	users map[string]User
}

func (m *mockTokenVerifier) Verify(token string) (User, error) {
	user, ok := m.users[token]
	if !ok {
		return User{}, errors.New("unknown token")
	}
	return user, nil
}

func newMockTokenVerifier() *mockTokenVerifier {
	return &mockTokenVerifier{users: map[string]User{
		creatorToken: {ID: creatorUserId, Email: "creator@campus.edu"},
		studentToken: {ID: studentUserId, Email: "student@campus.edu"},
		adminToken:   {ID: "admin-1", Email: "admin@campus.edu", Roles: []string{adminRole}},
	}}
}

var _ DB = &mockDB{}

type mockDB struct {
	GetEventFunc                 func(ctx context.Context, id uuid.UUID) (events.Event, error)
	CreateEventFunc              func(ctx context.Context, event events.Event) error
	CreateRegistrationFunc       func(ctx context.Context, reg registration.Registration) error
	GetRegistrationFunc          func(ctx context.Context, eventId uuid.UUID, userId string) (registration.Registration, error)
	GetRegistrationByIDFunc      func(ctx context.Context, id uuid.UUID) (registration.Registration, error)
	UpdateRegistrationStatusFunc func(ctx context.Context, reg registration.Registration, fromStatus registration.Status, approvedDelta int) error
	ListRegistrationsFunc        func(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (registration.ListRegistrationsResponse, error)
}

func (m *mockDB) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	return m.GetEventFunc(ctx, id)
}

func (m *mockDB) CreateEvent(ctx context.Context, event events.Event) error {
	return m.CreateEventFunc(ctx, event)
}

func (m *mockDB) CreateRegistration(ctx context.Context, reg registration.Registration) error {
	if m.CreateRegistrationFunc != nil {
		return m.CreateRegistrationFunc(ctx, reg)
	}
	return nil
}

func (m *mockDB) GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (registration.Registration, error) {
	if m.GetRegistrationFunc != nil {
		return m.GetRegistrationFunc(ctx, eventId, userId)
	}
	return registration.Registration{}, registration.NewRegistrationDoesNotExistsError("not found", nil)
}

func (m *mockDB) GetRegistrationByID(ctx context.Context, id uuid.UUID) (registration.Registration, error) {
	return m.GetRegistrationByIDFunc(ctx, id)
}

func (m *mockDB) UpdateRegistrationStatus(ctx context.Context, reg registration.Registration, fromStatus registration.Status, approvedDelta int) error {
	if m.UpdateRegistrationStatusFunc != nil {
		return m.UpdateRegistrationStatusFunc(ctx, reg, fromStatus, approvedDelta)
	}
	return nil
}

func (m *mockDB) ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (registration.ListRegistrationsResponse, error) {
	return m.ListRegistrationsFunc(ctx, eventId, limit, cursor)
}

type mockCheckoutSessionCreator struct {
	CreateCheckoutFunc func(ctx context.Context, event events.Event, registrant registration.Registrant) (string, error)
}

func (m *mockCheckoutSessionCreator) CreateCheckout(ctx context.Context, event events.Event, registrant registration.Registrant) (string, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, event, registrant)
	}
	return "", errors.New("unexpected checkout")
}

type mockCheckoutManager struct {
	CreateCheckoutFunc  func(ctx context.Context, params payments.CheckoutParams) (payments.CheckoutInfo, error)
	ConfirmCheckoutFunc func(ctx context.Context, payload []byte, signature string) (payments.WebhookEvent, error)
}

func (m *mockCheckoutManager) CreateCheckout(ctx context.Context, params payments.CheckoutParams) (payments.CheckoutInfo, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, params)
	}
	return payments.CheckoutInfo{}, nil
}

func (m *mockCheckoutManager) ConfirmCheckout(ctx context.Context, payload []byte, signature string) (payments.WebhookEvent, error) {
	if m.ConfirmCheckoutFunc != nil {
		return m.ConfirmCheckoutFunc(ctx, payload, signature)
	}
	return payments.IgnoredEvent{}, nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	changes []registration.StatusChange
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, change registration.StatusChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

func (d *recordingDispatcher) recorded() []registration.StatusChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registration.StatusChange(nil), d.changes...)
}

type testServer struct {
	handler         http.Handler
	db              *mockDB
	checkout        *mockCheckoutSessionCreator
	checkoutManager *mockCheckoutManager
	dispatcher      *recordingDispatcher
}

func newTestServer(t *testing.T, db *mockDB) *testServer {
	t.Helper()

	swagger, err := GetSwagger()
	require.NoError(t, err)

	s := &testServer{
		db:              db,
		checkout:        &mockCheckoutSessionCreator{},
		checkoutManager: &mockCheckoutManager{},
		dispatcher:      &recordingDispatcher{},
	}
	api := NewAPI(db, noopLogger, LOCAL, newMockTokenVerifier(), s.checkout, s.checkoutManager, s.dispatcher, nil)
	s.handler = api.Handler(swagger)

	return s
}
