package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n payments.Notification) (payments.Outcome, error)
}

// MercadoPagoWebhook accepts gateway notifications. The body is never
// trusted for payment state; the service re-reads the payment from the
// gateway. When secret is empty the signature check is skipped.
func MercadoPagoWebhook(svc NotificationHandler, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		notification := payments.NormalizeNotification(body, r.URL.Query())

		if strings.TrimSpace(secret) != "" {
			dataID := r.URL.Query().Get("data.id")
			if dataID == "" {
				dataID = notification.PaymentID
			}
			err := payments.VerifySignature(secret, r.Header.Get("X-Signature"), r.Header.Get("X-Request-Id"), dataID)
			if err != nil {
				msg := "invalid webhook signature"
				if errors.Is(err, payments.ErrSignatureMissing) {
					msg = "webhook signature missing"
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, msg))
				return
			}
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"webhook_topic": notification.Topic,
				"payment_id":    notification.PaymentID,
			})
		}

		outcome, err := svc.HandleNotification(ctx, notification)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "webhook.processed")
		}
		// MercadoPago only retries on non-2xx; it ignores any body.
		responses.WriteStatus(w, http.StatusOK)
	}
}
