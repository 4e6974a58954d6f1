// Package config loads the engine's environment-driven configuration
// (§6), following the explicit-schema-with-defaults-and-ranges idiom:
// struct tags carry env names, defaults, and validation ranges, and
// Load fails fast on startup if any are invalid.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every recognized environment variable and its effect on
// the engine, per §6's "Configuration" list.
type Config struct {
	// Transport
	Port              int    `env:"PORT" envDefault:"8080"`
	APIBaseURL        string `env:"API_BASE_URL"`
	DashboardBaseURL  string `env:"DASHBOARD_BASE_URL"`
	PreviewBaseDomain string `env:"PREVIEW_BASE_DOMAIN"`
	BaseDomain        string `env:"BASE_DOMAIN"`
	PreviewDomainStyle string `env:"PREVIEW_DOMAIN_STYLE" envDefault:"project" validate:"oneof=project project_ref"`
	DefaultRegion     string `env:"DEFAULT_REGION" envDefault:"default"`

	// Stores
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`
	RedisURL    string `env:"REDIS_URL" validate:"required"`

	// Secrets
	JWTSecret     string `env:"JWT_SECRET" validate:"required,min=16"`
	EncryptionKey string `env:"ENCRYPTION_KEY" validate:"required,min=32"`

	// DNS (optional — when either is empty the DNS stage is skipped)
	CloudflareAPIToken string `env:"CLOUDFLARE_API_TOKEN"`
	CloudflareZoneID   string `env:"CLOUDFLARE_ZONE_ID"`

	// Edge
	NginxSitesPath          string `env:"NGINX_SITES_PATH" envDefault:"/etc/nginx/sites-enabled"`
	NginxTemplatePath       string `env:"NGINX_TEMPLATE_PATH"`
	TLSCertsPath            string `env:"TLS_CERTS_PATH" envDefault:"/etc/engine/certs"`
	ACMEEmail               string `env:"ACME_EMAIL"`
	ACMEDirectoryURL        string `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	ACMEChallengeRoot       string `env:"ACME_CHALLENGE_ROOT" envDefault:"/var/www/acme-challenge"`
	ACMEAccountKeyPath      string `env:"ACME_ACCOUNT_KEY_PATH" envDefault:"/etc/engine/certs/acme-account.key.enc"`
	EdgeWakeEnabled         bool   `env:"EDGE_WAKE_ENABLED" envDefault:"false"`
	EdgeWakeToken           string `env:"EDGE_WAKE_TOKEN"`
	EdgeWakeRetrySeconds    int    `env:"EDGE_WAKE_RETRY_SECONDS" envDefault:"5" validate:"min=1,max=60"`
	ControlPlaneInternalURL string `env:"CONTROL_PLANE_INTERNAL_URL"`

	// Engine
	EngineRegion                    string `env:"ENGINE_REGION" envDefault:"default"`
	EngineMetricsPort               int    `env:"ENGINE_METRICS_PORT" envDefault:"9090"`
	EngineHealthcheckTimeoutSeconds int    `env:"ENGINE_HEALTHCHECK_TIMEOUT_SECONDS" envDefault:"45"`
	EngineLocalMode                 bool   `env:"ENGINE_LOCAL_MODE" envDefault:"false"`
	ContainerdSocketPath            string `env:"CONTAINERD_SOCKET_PATH" envDefault:"/run/containerd/containerd.sock"`
	PlatformContainerPrefix         string `env:"PLATFORM_CONTAINER_PREFIX" envDefault:"apployd"`

	// OTP/email
	EmailVerificationTTLMinutes           int `env:"EMAIL_VERIFICATION_TTL_MINUTES" envDefault:"10" validate:"min=1,max=60"`
	EmailVerificationResendCooldownSeconds int `env:"EMAIL_VERIFICATION_RESEND_COOLDOWN_SECONDS" envDefault:"60" validate:"min=5,max=3600"`
	EmailVerificationMaxAttempts          int `env:"EMAIL_VERIFICATION_MAX_ATTEMPTS" envDefault:"5" validate:"min=1,max=20"`
}

// DNSConfigured reports whether Cloudflare credentials are present; when
// false the DNS stage (G) is skipped per §4.G.
func (c *Config) DNSConfigured() bool {
	return c.CloudflareAPIToken != "" && c.CloudflareZoneID != ""
}

// Load parses environment variables into a Config and validates it,
// returning an error suitable for a non-zero exit per §6's exit codes.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return cfg, nil
}
