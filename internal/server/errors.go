package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	"github.com/hypergraphlabs/meridian/internal/pause"
	"github.com/hypergraphlabs/meridian/internal/proration"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware turns the last gin error into a JSON response with
// a status derived from the domain error taxonomy.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, payloadFor(err, "validation_error")
	case isPaymentError(err):
		return http.StatusPaymentRequired, payloadFor(err, "payment_error")
	case isForbiddenError(err):
		return http.StatusForbidden, payloadFor(err, "forbidden")
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case isConflictError(err):
		return http.StatusConflict, payloadFor(err, "conflict")
	case errors.Is(err, gatewaydomain.ErrUnavailable):
		return http.StatusBadGateway, payloadFor(err, "gateway_error")
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func payloadFor(err error, kind string) errorPayload {
	return errorPayload{Type: kind, Message: err.Error()}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidType),
		errors.Is(err, pause.ErrInvalidResumeTime),
		errors.Is(err, proration.ErrSameTier),
		errors.Is(err, subdomain.ErrSeatsBelowUsage),
		errors.Is(err, subdomain.ErrNotTeamAccount),
		errors.Is(err, teamdomain.ErrInvalidRole),
		errors.Is(err, teamdomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

func isPaymentError(err error) bool {
	switch {
	case errors.Is(err, creditdomain.ErrInsufficientCredits),
		errors.Is(err, gatewaydomain.ErrCardDeclined):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, teamdomain.ErrForbidden),
		errors.Is(err, teamdomain.ErrOwnerImmutable):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, creditdomain.ErrAccountNotFound),
		errors.Is(err, subdomain.ErrAccountNotFound),
		errors.Is(err, teamdomain.ErrTeamNotFound),
		errors.Is(err, teamdomain.ErrMemberNotFound),
		errors.Is(err, catalogdomain.ErrTierNotFound),
		errors.Is(err, catalogdomain.ErrServiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, subdomain.ErrAlreadySubscribed),
		errors.Is(err, subdomain.ErrAlreadyCanceled),
		errors.Is(err, subdomain.ErrInvalidTransition),
		errors.Is(err, subdomain.ErrSeatLimitReached),
		errors.Is(err, subdomain.ErrNotGatewayLinked),
		errors.Is(err, gatewaydomain.ErrNotLinked),
		errors.Is(err, pause.ErrAlreadyPaused),
		errors.Is(err, pause.ErrNotPaused),
		errors.Is(err, teamdomain.ErrAlreadyMember):
		return true
	default:
		return false
	}
}
