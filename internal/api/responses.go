package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strconv"

	"github.com/directory/payment-service/internal/app"
	"github.com/directory/payment-service/internal/domain"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Details    string              `json:"details,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Timestamp  string              `json:"timestamp,omitempty"`
	Session    *app.ControllerView `json:"session,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// respondWithAppError maps checkout and gateway errors onto HTTP statuses.
// view, when present, lets the client render the countdown or fallback state.
func respondWithAppError(w http.ResponseWriter, err error, view *app.ControllerView) {
	var gwErr *domain.GatewayError
	switch {
	case errors.As(err, &gwErr):
		body := errorBody{
			Code:       string(gwErr.Code),
			Message:    gwErr.Message,
			Details:    gwErr.Details,
			StatusCode: gwErr.StatusCode,
			Timestamp:  gwErr.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Session:    view,
		}
		if gwErr.Code == domain.CodeRateLimited && view != nil && view.Attempt.CountdownSecondsRemaining > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(view.Attempt.CountdownSecondsRemaining))
		}
		respondWithJSON(w, gatewayStatus(gwErr.Code), errorResponse{Error: body})
	case errors.Is(err, app.ErrSessionNotFound):
		respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Checkout session not found")
	case errors.Is(err, app.ErrSessionForbidden):
		respondWithError(w, http.StatusForbidden, "FORBIDDEN", "Checkout session belongs to another user")
	case errors.Is(err, app.ErrCountdownActive):
		if view != nil && view.Attempt.CountdownSecondsRemaining > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(view.Attempt.CountdownSecondsRemaining))
		}
		respondWithJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "COUNTDOWN_ACTIVE", Message: err.Error(), Session: view}})
	case errors.Is(err, app.ErrSubmitInProgress):
		respondWithJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "SUBMIT_IN_PROGRESS", Message: err.Error(), Session: view}})
	case errors.Is(err, app.ErrFallbackOffered):
		respondWithJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "FALLBACK_OFFERED", Message: err.Error(), Session: view}})
	case errors.Is(err, app.ErrRetryNotAllowed):
		respondWithJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "RETRY_NOT_ALLOWED", Message: err.Error(), Session: view}})
	case errors.Is(err, app.ErrQueueClosed):
		respondWithError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Payment service is shutting down. Please try again shortly.")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondWithError(w, http.StatusGatewayTimeout, "TIMEOUT", "Timed out waiting for the payment gateway")
	default:
		log.Printf("level=error component=api msg=\"unhandled checkout error\" err=%v", err)
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
	}
}

func gatewayStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodePaymentRejected, domain.CodeInvalidPackage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

var redirectPage = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Redirecting to payment</title>
</head>
<body onload="document.forms[0].submit()">
<p>Redirecting you to the payment page…</p>
<form action="{{.ActionURL}}" method="{{.Method}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

func renderRedirectPage(w http.ResponseWriter, form *domain.RedirectForm) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := redirectPage.Execute(w, form); err != nil {
		log.Printf("level=error component=api op=redirect txn_id=%s err=%v", form.TransactionID, err)
	}
}
