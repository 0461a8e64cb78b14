// internal/tenant/meta/config.go
//
// Typed site configuration, validated at the directory boundary.
//
// Context
// -------
// `tenant.config` is a JSON document owned by the provisioning tools.  The
// gate needs only a few fields from it (site name for the suspended page,
// contact email for logs), but a malformed document must never reach the
// renderers.  parseConfig decodes the fields the platform relies on into
// SiteConfig, validates them with go-playground/validator, and keeps the
// untouched bytes as RawConfig for the rendering collaborators.
//
// Rules
// -----
//   - identity.site_name and identity.contact.email are required.
//   - contact email must be well-formed.
//   - theme.brand_color, when set, is a six-digit hex colour.
//   - seo.title is at most 60 characters, seo.description at most 160.
package meta

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// SiteConfig holds the configuration fields the platform depends on.
// Unknown keys are preserved only in Record.RawConfig.
type SiteConfig struct {
	Identity Identity        `json:"identity"`
	Theme    Theme           `json:"theme"`
	SEO      SEO             `json:"seo"`
	Features map[string]bool `json:"features,omitempty"`
}

// Identity names the business behind the site.
type Identity struct {
	SiteName string  `json:"siteName" validate:"required"`
	Contact  Contact `json:"contact"`
}

// Contact is the tenant's primary contact.
type Contact struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
}

// Theme carries branding.
type Theme struct {
	BrandColor string `json:"brandColor,omitempty" validate:"omitempty,brandcolor"`
}

// SEO carries default meta tags.
type SEO struct {
	Title       string `json:"title,omitempty" validate:"max=60"`
	Description string `json:"description,omitempty" validate:"max=160"`
}

var (
	validate   = validator.New()
	brandColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

func init() {
	// The built-in hexcolor rule accepts three-digit forms; brand colours
	// must be six digits.
	_ = validate.RegisterValidation("brandcolor", func(fl validator.FieldLevel) bool {
		return brandColor.MatchString(fl.Field().String())
	})
}

// parseConfig decodes and validates raw.  The returned error wraps
// ErrInvalidRecord.
func parseConfig(raw []byte) (SiteConfig, error) {
	var cfg SiteConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return SiteConfig{}, fmt.Errorf("%w: config: %v", ErrInvalidRecord, err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return SiteConfig{}, err
	}
	return cfg, nil
}

// ValidateConfig applies the rules above.  Provisioning tools call it
// before writing a document; the gate calls it on every directory read.
func ValidateConfig(cfg SiteConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: config: %v", ErrInvalidRecord, err)
	}
	return nil
}
