package registration

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/International-Combat-Archery-Alliance/email"
)

//go:embed templates
var templates embed.FS

var templateFuncs = map[string]any{
	"title": statusTitle,
}

func SendStatusChangeEmail(ctx context.Context, emailSender email.Sender, fromAddress string, change StatusChange) error {
	if change.Registration.Email == "" {
		return fmt.Errorf("registration %q has no email address", change.Registration.ID)
	}

	htmlBody, err := makeHtmlBody(change)
	if err != nil {
		return err
	}

	textOnlyBody, err := makeTextOnlyBody(change)
	if err != nil {
		return err
	}

	return emailSender.SendEmail(ctx, email.Email{
		FromAddress: fromAddress,
		ToAddresses: []string{change.Registration.Email},
		Subject:     statusChangeSubject(change),
		HTMLBody:    htmlBody,
		TextBody:    textOnlyBody,
	})
}

func statusChangeSubject(change StatusChange) string {
	if change.IsNew() {
		return fmt.Sprintf("Registration received - %q", change.Event.Name)
	}
	return fmt.Sprintf("Registration %s - %q", change.To, change.Event.Name)
}

func statusTitle(s Status) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func templateData(change StatusChange) map[string]any {
	return map[string]any{
		"Event":        change.Event,
		"Registration": change.Registration,
		"From":         change.From,
		"To":           change.To,
		"Reason":       change.Reason,
		"IsNew":        change.IsNew(),
	}
}

func makeHtmlBody(change StatusChange) (string, error) {
	tmpl, err := htmltemplate.New("status-change.tmpl").Funcs(templateFuncs).ParseFS(templates, "templates/status-change.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to parse email template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, templateData(change))
	if err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}

	return buf.String(), nil
}

func makeTextOnlyBody(change StatusChange) (string, error) {
	tmpl, err := texttemplate.New("status-change-textonly.tmpl").Funcs(templateFuncs).ParseFS(templates, "templates/status-change-textonly.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to parse email template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, templateData(change))
	if err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}

	return buf.String(), nil
}
