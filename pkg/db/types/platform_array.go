package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/geniolibre/publisher-backend/pkg/enums"
)

// PlatformArray maps a Postgres text[] column onto a slice of platforms.
type PlatformArray []enums.Platform

func (a *PlatformArray) Scan(src any) error {
	if src == nil {
		*a = PlatformArray{}
		return nil
	}

	switch v := src.(type) {
	case string:
		return a.parseFromString(v)
	case []byte:
		return a.parseFromString(string(v))
	default:
		return fmt.Errorf("PlatformArray: unsupported Scan type %T", src)
	}
}

func (a PlatformArray) Value() (driver.Value, error) {
	// Postgres array literal: {facebook,tiktok}
	if len(a) == 0 {
		return "{}", nil
	}
	parts := make([]string, 0, len(a))
	for _, p := range a {
		parts = append(parts, string(p))
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// Contains reports whether the platform was selected for publication.
func (a PlatformArray) Contains(platform enums.Platform) bool {
	for _, p := range a {
		if p == platform {
			return true
		}
	}
	return false
}

func (a *PlatformArray) parseFromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "{}" || s == "" {
		*a = PlatformArray{}
		return nil
	}
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if strings.TrimSpace(s) == "" {
		*a = PlatformArray{}
		return nil
	}

	raw := strings.Split(s, ",")
	out := make([]enums.Platform, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(strings.Trim(r, `"`))
		p, err := enums.ParsePlatform(r)
		if err != nil {
			return fmt.Errorf("PlatformArray: parse %q: %w", r, err)
		}
		out = append(out, p)
	}
	*a = PlatformArray(out)
	return nil
}
