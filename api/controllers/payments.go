package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type paymentConfirmer interface {
	ConfirmClientResult(ctx context.Context, c payments.ClientConfirmation) (*payments.ConfirmResult, error)
}

type confirmPaymentRequest struct {
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	PaymentID string    `json:"payment_id" validate:"omitempty,max=64"`
	Status    string    `json:"status" validate:"required,max=32"`
}

// ConfirmPayment applies the status the browser reports after returning from
// the hosted checkout page.
func ConfirmPayment(svc paymentConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConfirmClientResult(r.Context(), payments.ClientConfirmation{
			UserID:    userID,
			OrderID:   payload.OrderID,
			PaymentID: payload.PaymentID,
			Status:    payload.Status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
