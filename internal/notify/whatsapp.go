package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
)

// WhatsAppRelay posts text messages to a WhatsApp gateway session
// (POST {baseURL}/send-message with a bearer token).
type WhatsAppRelay struct {
	httpClient *http.Client
	baseURL    string
	token      string
	attempts   uint
	retryDelay time.Duration
}

type whatsAppRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	IsGroup bool   `json:"is_group"`
}

type whatsAppResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func NewWhatsAppRelay(baseURL, token string) *WhatsAppRelay {
	return &WhatsAppRelay{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
		attempts:   3,
		retryDelay: 2 * time.Second,
	}
}

func (r *WhatsAppRelay) SendText(ctx context.Context, destination, text string) error {
	body, err := json.Marshal(whatsAppRequest{
		To:      destination,
		Message: text,
		IsGroup: isGroupJID(destination),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return retry.Do(
		func() error { return r.post(ctx, body) },
		retry.Attempts(r.attempts),
		retry.Delay(r.retryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			_, permanent := err.(permanentError)
			return !permanent
		}),
	)
}

type permanentError struct{ error }

func (r *WhatsAppRelay) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/send-message", bytes.NewReader(body))
	if err != nil {
		return permanentError{fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach whatsapp gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("whatsapp gateway returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return permanentError{fmt.Errorf("whatsapp gateway returned status %d: %s", resp.StatusCode, string(raw))}
	}

	var out whatsAppResponse
	if err := json.Unmarshal(raw, &out); err == nil && !out.Status && out.Message != "" {
		return permanentError{fmt.Errorf("whatsapp gateway rejected message: %s", out.Message)}
	}
	return nil
}

// Group chats use the @g.us JID suffix.
func isGroupJID(destination string) bool {
	return len(destination) > 5 && destination[len(destination)-5:] == "@g.us"
}
