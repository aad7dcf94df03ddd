package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ideatorio/internal/domain"
)

// flexString accepts a JSON string or number. Clients send PINs and host ids
// as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}

// optionList accepts a single option id or a list of them.
type optionList []string

func (o *optionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = item.String()
		}
		*o = out
		return nil
	}
	var single flexString
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*o = nil
		return nil
	}
	*o = []string{single.String()}
	return nil
}

// errorBody is the error shape shared by REST responses and WebSocket acks.
type errorBody struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

func newErrorBody(err error) errorBody {
	return errorBody{Error: err.Error(), Code: domain.Code(err)}
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "capacity":
		return http.StatusServiceUnavailable
	case "stale_dynamic":
		return http.StatusConflict
	case "validation":
		return http.StatusBadRequest
	case "transport":
		return http.StatusBadGateway
	case "forbidden":
		return http.StatusForbidden
	case "paused":
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func parseGeneration(raw *flexString) (uint64, bool, error) {
	if raw == nil || *raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw.String(), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: bad generation %q", domain.ErrValidation, raw.String())
	}
	return n, true, nil
}
