// Package mercadopago is a thin client for the Mercado Pago checkout and
// payments APIs.
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 10 * time.Second

	preferencesPath   = "/checkout/preferences"
	paymentPath       = "/v1/payments/{id}"
	paymentSearchPath = "/v1/payments/search"
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client talks to Mercado Pago with a private access token.
type Client struct {
	http *resty.Client
}

type clientOptions struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures optional client behavior.
type Option func(*clientOptions)

// WithBaseURL overrides the API host, mostly for tests.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			o.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func NewClient(accessToken string, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	options := clientOptions{baseURL: defaultBaseURL, timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var rc *resty.Client
	if options.httpClient != nil {
		rc = resty.NewWithClient(options.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(options.baseURL, "/")).
		SetTimeout(options.timeout).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")

	return &Client{http: rc}, nil
}

// CreatePreference opens a hosted checkout session.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference requires at least one item")
	}

	var out Preference
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(preferencesPath)
	if err := checkResponse(resp, err, &apiErr, "create preference"); err != nil {
		return nil, err
	}
	if out.ID == "" || out.RedirectURL() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "create preference returned no checkout url")
	}
	return &out, nil
}

// GetPayment fetches the authoritative state of one payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var out Payment
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get(paymentPath)
	if err := checkResponse(resp, err, &apiErr, "get payment"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPaymentsByReference lists payments whose external_reference matches,
// newest first.
func (c *Client) SearchPaymentsByReference(ctx context.Context, reference string) ([]Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	var out searchResponse
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"external_reference": ref,
			"sort":               "date_created",
			"criteria":           "desc",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Get(paymentSearchPath)
	if err := checkResponse(resp, err, &apiErr, "search payments"); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func checkResponse(resp *resty.Response, err error, apiErr *APIError, op string) error {
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(resp.Body()))
		}
		if resp.StatusCode() == http.StatusNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, apiErr, op)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, apiErr, op)
	}
	return nil
}

// APIError is the error body Mercado Pago returns on 4xx/5xx.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("mercado pago status %d: %s (%s)", e.StatusCode, e.Message, e.ErrorCode)
	}
	return fmt.Sprintf("mercado pago status %d: %s", e.StatusCode, e.Message)
}
