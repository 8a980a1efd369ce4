package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

type templateComponent struct {
	Type       string `json:"type"`
	Parameters []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"parameters"`
}

type templatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components"`
	} `json:"template"`
}

// TemplateClient sends pre-approved WhatsApp template messages to
// subscription recipients through the Cloud API. The provider's message id
// from a successful send becomes the delivery receipt id.
type TemplateClient struct {
	url          string
	token        string
	templateName string
	templateLang string
	client       *http.Client
	logger       *slog.Logger
}

// NewTemplateClient builds a sender for one configured business number and
// template.
func NewTemplateClient(numberID, token, templateName, templateLang string, logger *slog.Logger) *TemplateClient {
	return &TemplateClient{
		url:          fmt.Sprintf("https://graph.facebook.com/v18.0/%s/messages", numberID),
		token:        token,
		templateName: templateName,
		templateLang: templateLang,
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
	}
}

// SendTemplate delivers the template to one recipient, with the recipient's
// name as the body parameter. It returns the provider message id.
func (t *TemplateClient) SendTemplate(ctx context.Context, rcp domain.Recipient) (string, error) {
	var payload templatePayload
	payload.MessagingProduct = "whatsapp"
	payload.To = rcp.Phone
	payload.Type = "template"
	payload.Template.Name = t.templateName
	payload.Template.Language.Code = t.templateLang

	var body templateComponent
	body.Type = "body"
	body.Parameters = append(body.Parameters, struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: rcp.Name})
	payload.Template.Components = []templateComponent{body}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	status, respBody, err := postJSON(ctx, t.client, t.url, header, payload)
	if err != nil {
		return "", fmt.Errorf("whatsapp template send: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("whatsapp template send: status %d: %s", status, respBody)
	}

	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("whatsapp template send: decode response: %w", err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp template send: response carries no message id")
	}

	t.logger.Debug("template delivered", "recipient", rcp.Phone, "message_id", resp.Messages[0].ID)
	return resp.Messages[0].ID, nil
}
