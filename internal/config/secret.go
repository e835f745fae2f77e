package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// LoadOptional resolves ref, returning "" when no source is configured.
func LoadOptional(ref commoncfg.SourceRef) (string, error) {
	if ref.Source == "" {
		return "", nil
	}

	v, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return "", fmt.Errorf("loading %s value: %w", ref.Source, err)
	}
	return string(v), nil
}
