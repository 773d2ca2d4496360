package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Parse decodes TOML content over base and validates the result. Keys the
// schema does not know are reported as warnings.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	meta, err := toml.Decode(content, &cfg)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return Config{}, nil, fmt.Errorf("line %d: %s", perr.Position.Line, perr.Message)
		}
		return Config{}, nil, err
	}

	var warnings []Warning
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("unknown key %q ignored", key.String())})
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Server.Socket = strings.TrimSpace(cfg.Server.Socket)
	cfg.Metrics.Listen = strings.TrimSpace(cfg.Metrics.Listen)

	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}
