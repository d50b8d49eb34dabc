package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/International-Combat-Archery-Alliance/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmailSender struct {
	SendEmailFunc func(ctx context.Context, e email.Email) error
}

func (m *mockEmailSender) SendEmail(ctx context.Context, e email.Email) error {
	return m.SendEmailFunc(ctx, e)
}

func TestSendStatusChangeEmail(t *testing.T) {
	event := freeEvent(10)
	reg := newPendingRegistration(event.ID, Registrant{UserID: "user-a", Email: "a@campus.edu"}, nil, time.Now())

	t.Run("new registration", func(t *testing.T) {
		var sent email.Email
		sender := &mockEmailSender{
			SendEmailFunc: func(ctx context.Context, e email.Email) error {
				sent = e
				return nil
			},
		}

		err := SendStatusChangeEmail(context.Background(), sender, "events@campus.edu", StatusChange{Registration: reg, Event: event, To: PENDING})
		require.NoError(t, err)

		assert.Equal(t, "events@campus.edu", sent.FromAddress)
		assert.Equal(t, []string{"a@campus.edu"}, sent.ToAddresses)
		assert.Contains(t, sent.Subject, "Registration received")
		assert.Contains(t, sent.HTMLBody, "We received your registration for Intramural Archery Night")
		assert.Contains(t, sent.TextBody, "Your registration is Pending.")
		assert.Contains(t, sent.TextBody, reg.ID.String())
	})

	t.Run("transition with reason", func(t *testing.T) {
		var sent email.Email
		sender := &mockEmailSender{
			SendEmailFunc: func(ctx context.Context, e email.Email) error {
				sent = e
				return nil
			},
		}
		reason := "Bring your own bow"
		approved := reg
		approved.Status = APPROVED

		err := SendStatusChangeEmail(context.Background(), sender, "events@campus.edu", StatusChange{Registration: approved, Event: event, From: PENDING, To: APPROVED, Reason: &reason})
		require.NoError(t, err)

		assert.Equal(t, `Registration approved - "Intramural Archery Night"`, sent.Subject)
		assert.Contains(t, sent.HTMLBody, "is now Approved")
		assert.Contains(t, sent.HTMLBody, "It was previously <strong>Pending</strong>")
		assert.Contains(t, sent.TextBody, "Note from the organizer: Bring your own bow")
	})

	t.Run("reason is escaped in html", func(t *testing.T) {
		var sent email.Email
		sender := &mockEmailSender{
			SendEmailFunc: func(ctx context.Context, e email.Email) error {
				sent = e
				return nil
			},
		}
		reason := "<script>alert(1)</script>"

		err := SendStatusChangeEmail(context.Background(), sender, "events@campus.edu", StatusChange{Registration: reg, Event: event, From: APPROVED, To: REJECTED, Reason: &reason})
		require.NoError(t, err)

		assert.NotContains(t, sent.HTMLBody, "<script>")
	})

	t.Run("no email address", func(t *testing.T) {
		noEmail := reg
		noEmail.Email = ""
		sender := &mockEmailSender{
			SendEmailFunc: func(ctx context.Context, e email.Email) error {
				t.Fatal("should not send")
				return nil
			},
		}

		err := SendStatusChangeEmail(context.Background(), sender, "events@campus.edu", StatusChange{Registration: noEmail, Event: event, To: PENDING})
		assert.Error(t, err)
	})

	t.Run("sender failure is returned", func(t *testing.T) {
		sender := &mockEmailSender{
			SendEmailFunc: func(ctx context.Context, e email.Email) error {
				return errors.New("ses down")
			},
		}

		err := SendStatusChangeEmail(context.Background(), sender, "events@campus.edu", StatusChange{Registration: reg, Event: event, To: PENDING})
		assert.EqualError(t, err, "ses down")
	})
}
