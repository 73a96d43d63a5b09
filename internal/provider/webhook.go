package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// SendRequest is the JSON body posted to the gateway.
type SendRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"`
}

// SendResponse maps the gateway's 202 Accepted response body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// WebhookProvider delivers email, SMS and calls by POSTing to a generic HTTP
// gateway (a relay service, or webhook.site in staging).
// The base URL is injected from config so tests can point to a local mock.
type WebhookProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewWebhookProvider(baseURL string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *WebhookProvider) SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error) {
	return p.send(ctx, SendRequest{
		To:      msg.To,
		Channel: string(domain.ChannelEmail),
		Content: msg.Body,
		Subject: msg.Subject,
	})
}

func (p *WebhookProvider) SendSMS(ctx context.Context, msg SMSMessage) (*Receipt, error) {
	return p.send(ctx, SendRequest{
		To:      msg.To,
		Channel: string(domain.ChannelSMS),
		Content: msg.Body,
	})
}

func (p *WebhookProvider) PlaceCall(ctx context.Context, req CallRequest) (*Receipt, error) {
	return p.send(ctx, SendRequest{
		To:      req.To,
		Channel: string(domain.ChannelCall),
		Content: req.ScriptURL,
	})
}

// send posts one request and expects a 202 Accepted response with a JSON
// body containing messageId.
func (p *WebhookProvider) send(ctx context.Context, sr SendRequest) (*Receipt, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, providerErr("webhook", "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, providerErr("webhook", "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, providerErr("webhook", "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, providerErr("webhook", sr.Channel, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, providerErr("webhook", "decode response", err)
	}

	return &Receipt{
		ID:        sendResp.MessageID,
		Provider:  "webhook",
		Status:    sendResp.Status,
		Timestamp: time.Now().UTC(),
	}, nil
}

// compile-time check
var (
	_ EmailSender = (*WebhookProvider)(nil)
	_ SMSSender   = (*WebhookProvider)(nil)
	_ Caller      = (*WebhookProvider)(nil)
)
