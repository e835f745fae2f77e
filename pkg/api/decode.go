package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/marko-app/marko/internal/serviceerr"
)

var jsonNull = []byte("null")

// decodeList accepts a bare array or an object holding the array under
// envelope. A missing or null list decodes as empty.
func decodeList[T any](raw []byte, envelope string) ([]T, error) {
	data := bytes.TrimSpace(raw)
	out := []T{}

	if len(data) > 0 && data[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, decodeError(err)
		}
		inner, ok := env[envelope]
		if !ok {
			return nil, decodeError(fmt.Errorf("missing %q in response", envelope))
		}
		data = bytes.TrimSpace(inner)
	}

	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, decodeError(err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// decodeObject accepts the object itself or an object holding it under
// envelope.
func decodeObject[T any](raw []byte, envelope string) (T, error) {
	var out T
	data := bytes.TrimSpace(raw)

	var env map[string]json.RawMessage
	if json.Unmarshal(data, &env) == nil {
		if inner, ok := env[envelope]; ok {
			if trimmed := bytes.TrimSpace(inner); len(trimmed) > 0 && trimmed[0] == '{' {
				data = trimmed
			}
		}
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, decodeError(err)
	}
	return out, nil
}

// decodeJoin reads {success} when the server sends it; any 2xx response
// without it means the join went through.
func decodeJoin(raw []byte) JoinResult {
	res := JoinResult{Success: true}

	var body struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Success != nil {
			res.Success = *body.Success
		}
		res.Message = body.Message
	}
	return res
}

func decodeError(err error) error {
	return serviceerr.Wrap(serviceerr.CodeUnknown, err, "decoding response")
}
