package cmdutils

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "", FormatYAML:
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q, expected yaml or json", s)
	}
}

// Render writes v to w. Raw JSON values are decoded first so they render
// as documents in either format.
func Render(w io.Writer, format Format, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			_, err := fmt.Fprintln(w, string(raw))
			return err
		}
		v = decoded
	}

	var (
		out []byte
		err error
	)
	switch format {
	case FormatJSON:
		out, err = json.MarshalIndent(v, "", "  ")
		if err == nil {
			out = append(out, '\n')
		}
	default:
		out, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("rendering %s output: %w", format, err)
	}

	_, err = w.Write(out)
	return err
}
