package api

import (
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}

func writeGenerateError(c *echo.Context, err error) error {
	status, errType := statusFor(err)
	return writeError(c, status, errType, err.Error())
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}

// utf8Carry holds back a trailing incomplete UTF-8 sequence so streamed text
// events never split a rune.
type utf8Carry struct {
	pending []byte
}

func (u *utf8Carry) Push(b []byte) string {
	buf := append(u.pending, b...)
	cut := len(buf)
	// Look back at most utf8.UTFMax-1 bytes for the start of a rune.
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-(utf8.UTFMax-1); i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}
	u.pending = append([]byte(nil), buf[cut:]...)
	return string(buf[:cut])
}

// Flush returns whatever is held back, valid or not.
func (u *utf8Carry) Flush() string {
	s := string(u.pending)
	u.pending = nil
	return s
}
