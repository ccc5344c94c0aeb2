package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mlm-platform/internal/pkg/lock"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/service"
)

// Reason codes produced by the transport layer itself.
const (
	reasonUnauthenticated = "UNAUTHENTICATED"
	reasonForbidden       = "FORBIDDEN"
	reasonNotFound        = "NOT_FOUND"
	reasonConflict        = "CONFLICT"
	reasonBusy            = "REQUEST_IN_PROGRESS"
	reasonRateLimited     = "RATE_LIMITED"
	reasonBadRequest      = "INVALID_REQUEST"
	reasonBadSignature    = "INVALID_SIGNATURE"
	reasonInternal        = "INTERNAL"
)

var notFound = []error{
	repository.ErrUserNotFound,
	repository.ErrWalletNotFound,
	repository.ErrActivationNotFound,
	repository.ErrWithdrawalNotFound,
	repository.ErrRenewalNotFound,
	repository.ErrSettingNotFound,
}

var conflicts = []error{
	repository.ErrInvalidTransition,
	repository.ErrStatusConflict,
	repository.ErrTelegramLinked,
	repository.ErrPaymentRefUsed,
}

// classify maps an error to an HTTP status and the reason code in the body.
func classify(err error) (int, string) {
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound, reasonNotFound
		}
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			return http.StatusConflict, reasonConflict
		}
	}
	if errors.Is(err, service.ErrForbidden) {
		return http.StatusForbidden, reasonForbidden
	}
	if errors.Is(err, lock.ErrLockTimeout) {
		return http.StatusTooManyRequests, reasonBusy
	}

	reason, ok := service.ReasonOf(err)
	if !ok {
		return http.StatusInternalServerError, reasonInternal
	}
	switch reason {
	case service.ReasonInsufficientFunds:
		return http.StatusPaymentRequired, reason
	case service.ReasonCapReached, service.ReasonFeatureDisabled:
		return http.StatusForbidden, reason
	}
	return http.StatusBadRequest, reason
}

// fail writes the callable error body for err.
func fail(c *gin.Context, err error) {
	status, reason := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("user_id", c.GetString(ctxUserID)).Msg("Request failed")
	}

	body := gin.H{"success": false, "error": reason}
	var ve *service.ValidationError
	if errors.As(err, &ve) && ve.Detail != "" {
		body["detail"] = ve.Detail
	}
	c.AbortWithStatusJSON(status, body)
}

func abort(c *gin.Context, status int, reason string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": reason})
}

// ok writes a successful callable response, merging extra fields.
func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
