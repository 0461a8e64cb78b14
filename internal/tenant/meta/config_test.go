package meta

import (
	"errors"
	"strings"
	"testing"
)

func validSiteConfig() SiteConfig {
	return SiteConfig{
		Identity: Identity{SiteName: "Client A", Contact: Contact{Email: "owner@client-a.example.com"}},
		Theme:    Theme{BrandColor: "#0A0B0C"},
		SEO:      SEO{Title: "Client A", Description: "Plumbing in Springfield"},
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(validSiteConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	mutations := map[string]func(*SiteConfig){
		"missing site name": func(c *SiteConfig) { c.Identity.SiteName = "" },
		"bad email":         func(c *SiteConfig) { c.Identity.Contact.Email = "not-an-email" },
		"short colour":      func(c *SiteConfig) { c.Theme.BrandColor = "#abc" },
		"named colour":      func(c *SiteConfig) { c.Theme.BrandColor = "red" },
		"long seo title":    func(c *SiteConfig) { c.SEO.Title = strings.Repeat("x", 61) },
		"long description":  func(c *SiteConfig) { c.SEO.Description = strings.Repeat("x", 161) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := validSiteConfig()
			mutate(&cfg)
			if err := ValidateConfig(cfg); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("err = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestValidateConfigOptionalColour(t *testing.T) {
	cfg := validSiteConfig()
	cfg.Theme.BrandColor = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("empty colour should be allowed: %v", err)
	}
}
