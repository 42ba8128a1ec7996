package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
//
// With no explicit path, config.jsonc is preferred and config.conf is
// accepted as a legacy fallback.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}

		if explicitPath == "" {
			if loaded, ok, lerr := loadLegacy(base); lerr != nil {
				return Loaded{}, lerr
			} else if ok {
				return loaded, nil
			}
		}

		warnings, verr := Validate(base)
		if verr != nil {
			return Loaded{}, verr
		}
		warnings = append([]Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		}}, warnings...)
		return Loaded{
			Path:     resolvedPath,
			Config:   base,
			Warnings: warnings,
			Exists:   false,
		}, nil
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}

func loadLegacy(base Config) (Loaded, bool, error) {
	path, err := legacyPath()
	if err != nil {
		return Loaded{}, false, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{}, false, nil
		}
		return Loaded{}, false, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	warnings = append([]Warning{{
		Message: fmt.Sprintf("using legacy config path %q; rename to config.jsonc", path),
	}}, warnings...)
	return Loaded{
		Path:     path,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, true, nil
}
