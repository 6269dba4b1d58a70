package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// writeEngineError maps a model.Error (or any other error) to an HTTP
// status and {success:false, error:{code,message}} body (spec §7's Kind
// table). Errors that aren't a *model.Error are logged loudly and surfaced
// as a generic 500, never echoing their raw message to the client.
func writeEngineError(c *echo.Context, err error) error {
	var me *model.Error
	if !errors.As(err, &me) {
		slog.Error("unhandled api error", "error", err)
		return c.JSON(http.StatusInternalServerError, failure("INTERNAL_ERROR", "internal server error", nil))
	}

	status, code := statusAndCodeFor(me.Kind)
	if status >= 500 {
		slog.Error("engine error", "kind", me.Kind, "error", me.Error())
	}
	return c.JSON(status, failure(code, me.Message, nil))
}

func statusAndCodeFor(kind model.Kind) (int, string) {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case model.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case model.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case model.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case model.KindTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case model.KindDatabase:
		return http.StatusInternalServerError, "DATABASE_ERROR"
	case model.KindEncryption:
		return http.StatusInternalServerError, "ENCRYPTION_ERROR"
	case model.KindInvalidState:
		return http.StatusInternalServerError, "INVALID_STATE"
	case model.KindModelFailure:
		return http.StatusInternalServerError, "MODEL_FAILURE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// notFoundWithCode writes a 404 carrying a specific wire code (e.g.
// WORKSPACE_NOT_FOUND, TEST_SET_NOT_FOUND) where the spec names one more
// precise than the generic NOT_FOUND the Kind table produces.
func notFoundWithCode(c *echo.Context, code, message string) error {
	return c.JSON(http.StatusNotFound, failure(code, message, nil))
}
