/**
 * @description
 * This package provides a client for the PayU order-signing endpoint. The endpoint
 * receives the checkout payload, computes the PayU hash server-side and answers with
 * the hosted payment page URL plus the form fields that must be posted to it.
 *
 * Every failure is returned as a classified *domain.GatewayError so callers can
 * decide between retrying, counting down and escalating.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package payuclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/directory/payment-service/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	MinTimeout     = 8 * time.Second
	MaxTimeout     = 15 * time.Second

	redirectURLField = "payu_url"
	maxDetailLength  = 512
)

var rateLimitMarkers = []string{"too many requests", "rate limit", "rate exceeded"}

// Client is a client for the PayU signing endpoint.
type Client struct {
	SigningURL string
	HTTPClient *http.Client
}

// NewClient creates a signing client. The timeout is clamped to the range the
// checkout flow tolerates; zero selects the default.
func NewClient(signingURL string, timeout time.Duration) *Client {
	return &Client{
		SigningURL: strings.TrimSpace(signingURL),
		HTTPClient: &http.Client{
			Timeout: ClampTimeout(timeout),
		},
	}
}

// ClampTimeout bounds a signing request timeout to [MinTimeout, MaxTimeout].
func ClampTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return DefaultTimeout
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	}
	return timeout
}

// Sign posts the payment request to the signing endpoint and returns the redirect
// target with its form fields.
func (c *Client) Sign(ctx context.Context, payload *domain.PaymentRequest) (*domain.GatewayParams, error) {
	if payload == nil {
		return nil, domain.NewGatewayError(domain.CodeUnknownGateway, "payment request is nil", 0)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewGatewayError(domain.CodeUnknownGateway, fmt.Sprintf("failed to marshal payment request: %v", err), 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SigningURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, domain.NewGatewayError(domain.CodeUnknownGateway, fmt.Sprintf("failed to create signing request: %v", err), 0)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=payu_client op=sign txnid=%s err=%v", payload.TransactionID, err)
		return nil, domain.NewGatewayError(domain.CodeGatewayUnavailable, fmt.Sprintf("signing request failed: %v", err), 0)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewGatewayError(domain.CodeGatewayUnavailable, fmt.Sprintf("failed to read signing response: %v", err), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := ClassifyFailure(resp.StatusCode, bodyBytes)
		log.Printf("level=warn component=payu_client op=sign txnid=%s status=%d code=%s", payload.TransactionID, resp.StatusCode, gwErr.Code)
		return nil, gwErr
	}

	params, err := ParseSigningResponse(bodyBytes)
	if err != nil {
		log.Printf("level=warn component=payu_client op=sign txnid=%s status=%d msg=\"malformed signing response\"", payload.TransactionID, resp.StatusCode)
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) {
			gwErr.StatusCode = resp.StatusCode
		}
		return nil, err
	}
	return params, nil
}

// ClassifyFailure maps a non-2xx signing response onto the checkout error taxonomy.
// Rate-limit markers are checked before the status class.
func ClassifyFailure(status int, body []byte) *domain.GatewayError {
	text := string(body)
	lower := strings.ToLower(text)
	details := truncate(strings.TrimSpace(text), maxDetailLength)
	if details == "" {
		details = fmt.Sprintf("signing endpoint returned status %d", status)
	}

	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return domain.NewGatewayError(domain.CodeRateLimited, details, status)
		}
	}
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewGatewayError(domain.CodeRateLimited, details, status)
	case status >= 500:
		return domain.NewGatewayError(domain.CodeGatewayUnavailable, details, status)
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "failed"):
		return domain.NewGatewayError(domain.CodePaymentRejected, details, status)
	}
	return domain.NewGatewayError(domain.CodeUnknownGateway, details, status)
}

// ParseSigningResponse decodes a 2xx signing response. The redirect URL is taken
// from payu_url; every other field becomes a form field.
func ParseSigningResponse(body []byte) (*domain.GatewayParams, error) {
	var raw map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil || raw == nil {
		return nil, domain.NewGatewayError(domain.CodeMalformedResponse, "signing response is not a JSON object", 0)
	}

	actionURL, _ := raw[redirectURLField].(string)
	actionURL = strings.TrimSpace(actionURL)
	if actionURL == "" {
		return nil, domain.NewGatewayError(domain.CodeMalformedResponse, "signing response has no payu_url", 0)
	}

	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		if name == redirectURLField || value == nil {
			continue
		}
		fields[name] = stringify(value)
	}
	return &domain.GatewayParams{ActionURL: actionURL, Fields: fields}, nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
