package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses reported by the gateway.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusChargeBack = "charged_back"
)

// PreferenceItem is one checkout line. UnitPrice is sent as a JSON number.
type PreferenceItem struct {
	ID         string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	CurrencyID string
}

func (i PreferenceItem) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID         string          `json:"id,omitempty"`
		Title      string          `json:"title"`
		Quantity   int             `json:"quantity"`
		UnitPrice  json.RawMessage `json:"unit_price"`
		CurrencyID string          `json:"currency_id,omitempty"`
	}
	return json.Marshal(wire{
		ID:         i.ID,
		Title:      i.Title,
		Quantity:   i.Quantity,
		UnitPrice:  json.RawMessage(i.UnitPrice.String()),
		CurrencyID: i.CurrencyID,
	})
}

type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	NotificationURL   string           `json:"notification_url,omitempty"`
}

type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// RedirectURL prefers the production checkout link.
func (p Preference) RedirectURL() string {
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

type Payment struct {
	ID                FlexibleID      `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	DateApproved      *time.Time      `json:"date_approved"`
}

// Approved reports whether the payment settled.
func (p Payment) Approved() bool {
	return strings.EqualFold(p.Status, StatusApproved)
}

type searchResponse struct {
	Results []Payment `json:"results"`
	Paging  struct {
		Total int `json:"total"`
	} `json:"paging"`
}

// FlexibleID accepts both numeric and string ids.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("payment id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("payment id %s is not an integer", n)
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}
