package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	zlog "github.com/rs/zerolog/log"
)

// RetryAfterSeconds is advertised on retryable failures so clients back off
// before re-sending the same Idempotency-Key.
const RetryAfterSeconds = 2

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusCreated, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteNoContent ends the response with 204 and no body.
func WriteNoContent(w http.ResponseWriter) {
	WriteStatus(w, http.StatusNoContent)
}

// WriteStatus ends the response with status and no body.
func WriteStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// WriteError renders err as the public error envelope. Codes that hide their
// message fall back to the catalogue text; the full chain only reaches logs.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	appErr := pkgerrors.As(err)
	if appErr == nil {
		appErr = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	code := appErr.Code()
	meta := pkgerrors.MetadataFor(code)

	apiErr := types.APIError{
		Code:      string(code),
		Message:   publicMessage(appErr, meta),
		Retryable: meta.Retryable,
	}
	if meta.DetailsAllowed {
		apiErr.Details = appErr.Details()
	}
	if meta.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}

	logFailure(ctx, logg, err, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func publicMessage(appErr *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if meta.ExposeMessage && appErr.Message() != "" {
		return appErr.Message()
	}
	return meta.PublicMessage
}

func logFailure(ctx context.Context, logg *logger.Logger, err error, status int) {
	if logg == nil {
		return
	}
	fields := pkgerrors.Dump(err).Fields()
	fields["http_status"] = status
	logCtx := logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(logCtx, "request.error", err)
		return
	}
	logg.Warn(logCtx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("response.encode_failed")
	}
}
