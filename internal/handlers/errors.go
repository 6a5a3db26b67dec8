package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

var statusByKind = map[model.ErrorKind]int{
	model.KindValidation:     http.StatusBadRequest,
	model.KindAuthentication: http.StatusUnauthorized,
	model.KindAuthorization:  http.StatusForbidden,
	model.KindNotFound:       http.StatusNotFound,
	model.KindConflict:       http.StatusConflict,
	model.KindRateLimited:    http.StatusTooManyRequests,
	model.KindDecryption:     http.StatusInternalServerError,
	model.KindInternal:       http.StatusInternalServerError,
}

var kindByStatus = map[int]model.ErrorKind{
	http.StatusBadRequest:            model.KindValidation,
	http.StatusUnauthorized:          model.KindAuthentication,
	http.StatusForbidden:             model.KindAuthorization,
	http.StatusNotFound:              model.KindNotFound,
	http.StatusMethodNotAllowed:      model.KindValidation,
	http.StatusConflict:              model.KindConflict,
	http.StatusRequestEntityTooLarge: model.KindValidation,
	http.StatusUnsupportedMediaType:  model.KindValidation,
	http.StatusTooManyRequests:       model.KindRateLimited,
}

type errorBody struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// ErrorHandler renders every failure as {"error": {"kind", "message"}}.
// Internal causes are logged, never rendered.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := describe(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if err := c.JSON(status, errorResponse{body}); err != nil {
		c.Logger().Error(err)
	}
}

func describe(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind, ok := kindByStatus[he.Code]
		if !ok {
			kind = model.KindInternal
			if he.Code < http.StatusInternalServerError {
				kind = model.KindValidation
			}
		}
		return he.Code, errorBody{Kind: kind, Message: fmt.Sprint(he.Message)}
	}

	var e *model.Error
	if errors.As(err, &e) {
		status, ok := statusByKind[e.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		message := e.Message
		if status >= http.StatusInternalServerError {
			message = http.StatusText(http.StatusInternalServerError)
		}
		return status, errorBody{Kind: e.Kind, Message: message}
	}

	return http.StatusInternalServerError, errorBody{
		Kind:    model.KindInternal,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}
