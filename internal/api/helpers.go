package api

import (
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg, param string) error {
	code, errType, _ := httpStatus(newInvalidRequest(msg))
	return writeError(c, code, errType, msg, param, "")
}

func writeStatusError(c *echo.Context, err error) error {
	code, errType, statusCode := httpStatus(err)
	return writeError(c, code, errType, err.Error(), "", statusCode)
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, errorBody{Error: ResponseError{
		Message: msg,
		Type:    errType,
		Code:    code,
		Param:   param,
	}})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
