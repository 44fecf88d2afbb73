package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"go.uber.org/zap"

	"fundpage_backend/internal/billing"
)

const resendEndpoint = "https://api.resend.com/emails"

// Service sends transactional email through the Resend API. It implements
// billing.Notifier.
type Service struct {
	apiKey    string
	from      string
	client    *http.Client
	templates *template.Template
	log       *zap.Logger
}

type payload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

func NewService(apiKey, from string, log *zap.Logger) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	return &Service{
		apiKey:    apiKey,
		from:      from,
		client:    &http.Client{},
		templates: templates,
		log:       log,
	}, nil
}

// Send renders the template for kind and posts it to Resend.
func (s *Service) Send(ctx context.Context, userEmail string, kind billing.TemplateKind, data map[string]any) error {
	subject, templateName, ok := templateFor(kind)
	if !ok {
		return fmt.Errorf("unknown email template kind %q", kind)
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}

	jsonData, err := json.Marshal(payload{
		From:    s.from,
		To:      userEmail,
		Subject: subject,
		Html:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("resend API error: %s", string(respBody))
	}

	s.log.Debug("email sent",
		zap.String("to", userEmail),
		zap.String("template", string(kind)))
	return nil
}
