package httputil

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/cc4me/cc4me/internal/relayerr"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code    relayerr.Code `json:"code"`
	Message string        `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status, code, and message.
func Fail(c fiber.Ctx, status int, code relayerr.Code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// FailErr translates a relay error into its HTTP response, falling back to 500/internal for anything that is not a
// *relayerr.Error.
func FailErr(c fiber.Ctx, err error) error {
	var relErr *relayerr.Error
	if errors.As(err, &relErr) {
		return Fail(c, relayerr.StatusFor(relErr.Code), relErr.Code, relErr.Message)
	}
	return Fail(c, 500, relayerr.CodeInternal, "internal server error")
}
