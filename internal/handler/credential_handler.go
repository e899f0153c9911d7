package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/service"
	"credential-sync/internal/util"
)

const maxBodyBytes = 1 << 20

// CredentialService is the set of operations exposed over HTTP.
type CredentialService interface {
	RequestPasswordResetEmail(ctx context.Context, req service.EmailRequest) (*service.OperationResult, error)
	IssueOtp(ctx context.Context, req service.EmailRequest) (*service.OperationResult, error)
	ValidateOtp(ctx context.Context, req service.ValidateOtpRequest) (*model.ValidationResult, error)
	NotifyPasswordReset(ctx context.Context, req service.EmailRequest) (*service.OperationResult, error)
	PasswordResetWebhook(ctx context.Context, req service.WebhookRequest) (*service.OperationResult, error)
}

// CredentialHandler handles HTTP requests for the credential operations
type CredentialHandler struct {
	credentialService CredentialService
	logger            *zap.Logger
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(credentialService CredentialService, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		credentialService: credentialService,
		logger:            logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func errorResponse(class model.ErrorClass, message string) Response {
	return Response{
		Success: false,
		Error:   string(class),
		Message: message,
	}
}

// RegisterRoutes registers all credential routes
func (h *CredentialHandler) RegisterRoutes(router chi.Router) {
	router.Post("/password-reset/email", h.RequestPasswordResetEmail)
	router.Post("/password-reset/notify", h.NotifyPasswordReset)
	router.Post("/otp", h.IssueOtp)
	router.Post("/otp/validate", h.ValidateOtp)

	// Callers must be authenticated by the deployment (gateway, mTLS or
	// network policy); the handler itself trusts the request.
	router.Post("/webhooks/password-reset", h.PasswordResetWebhook)
}

// RequestPasswordResetEmail handles POST /password-reset/email
func (h *CredentialHandler) RequestPasswordResetEmail(w http.ResponseWriter, r *http.Request) {
	var req service.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithResult(w, "RequestPasswordResetEmail", time.Now(),
		func() (*service.OperationResult, error) {
			return h.credentialService.RequestPasswordResetEmail(r.Context(), req)
		})
}

// IssueOtp handles POST /otp
func (h *CredentialHandler) IssueOtp(w http.ResponseWriter, r *http.Request) {
	var req service.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithResult(w, "IssueOtp", time.Now(),
		func() (*service.OperationResult, error) {
			return h.credentialService.IssueOtp(r.Context(), req)
		})
}

// NotifyPasswordReset handles POST /password-reset/notify
func (h *CredentialHandler) NotifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req service.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithResult(w, "NotifyPasswordReset", time.Now(),
		func() (*service.OperationResult, error) {
			return h.credentialService.NotifyPasswordReset(r.Context(), req)
		})
}

// PasswordResetWebhook handles POST /webhooks/password-reset
func (h *CredentialHandler) PasswordResetWebhook(w http.ResponseWriter, r *http.Request) {
	var req service.WebhookRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithResult(w, "PasswordResetWebhook", time.Now(),
		func() (*service.OperationResult, error) {
			return h.credentialService.PasswordResetWebhook(r.Context(), req)
		})
}

// ValidateOtp handles POST /otp/validate
func (h *CredentialHandler) ValidateOtp(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.ValidateOtpRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.credentialService.ValidateOtp(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, getValidationStatus(result), result)
	h.logger.Debug("OTP validation via HTTP",
		util.Bool("valid", result.Valid),
		util.String("reason", string(result.Reason)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *CredentialHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("Invalid request body", util.ErrorField(err), util.String("path", r.URL.Path))
		h.respondWithJSON(w, http.StatusBadRequest,
			errorResponse(model.ClassInvalidArgument, "Invalid request body"))
		return false
	}
	return true
}

func (h *CredentialHandler) respondWithResult(w http.ResponseWriter, method string, startTime time.Time, call func() (*service.OperationResult, error)) {
	result, err := call()
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: result.Success, Message: result.Message})
	h.logger.Info("Credential operation via HTTP",
		util.String("method", method),
		util.Duration("duration", time.Since(startTime)),
	)
}

// respondWithJSON sends a JSON response
func (h *CredentialHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response. Only the public class and
// message ever reach the client.
func (h *CredentialHandler) respondWithError(w http.ResponseWriter, err error) {
	class := model.ClassOf(err)
	message := "Something went wrong. Please try again later."
	var pub *model.PublicError
	if errors.As(err, &pub) {
		message = pub.Message
	}

	statusCode := getStatusCode(class)
	h.logger.Warn("HTTP error response",
		util.String("class", string(class)),
		util.Int("status_code", statusCode),
	)
	h.respondWithJSON(w, statusCode, errorResponse(class, message))
}

// getStatusCode determines the appropriate HTTP status code for an error class
func getStatusCode(class model.ErrorClass) int {
	switch class {
	case model.ClassInvalidArgument:
		return http.StatusBadRequest
	case model.ClassNotFound:
		return http.StatusNotFound
	case model.ClassFailedPrecondition:
		return http.StatusConflict
	case model.ClassResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// getValidationStatus maps an OTP outcome to its status code
func getValidationStatus(result *model.ValidationResult) int {
	if result.Valid {
		return http.StatusOK
	}
	switch result.Reason {
	case model.ReasonNotFound:
		return http.StatusNotFound
	case model.ReasonExpired:
		return http.StatusGone
	case model.ReasonAlreadyConsumed, model.ReasonConflict:
		return http.StatusConflict
	case model.ReasonMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
