package ingress

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/exec"
)

// rfc1123LabelPattern matches a single RFC-1123 DNS label.
var rfc1123LabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Config is configureProxy's input (§4.E).
type Config struct {
	Domain            string
	Aliases           []string
	UpstreamHost      string
	UpstreamPort      int
	UpstreamScheme    string // "http" or "https"
	AttackModeEnabled bool
	WakePath          string // empty disables the wake-path fallback block
	CertPath          string // TLS variant only
	KeyPath           string // TLS variant only
}

// TLS reports whether this config requires the TLS server-block variant.
func (c Config) TLS() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

// Validate enforces §4.E's domain/host/port rules.
func (c Config) Validate() error {
	if err := validateDomain(c.Domain); err != nil {
		return err
	}
	for _, alias := range c.Aliases {
		if err := validateDomain(alias); err != nil {
			return err
		}
	}
	if err := validateUpstreamHost(c.UpstreamHost); err != nil {
		return err
	}
	if c.UpstreamPort < 1 || c.UpstreamPort > 65535 {
		return fmt.Errorf("%w: upstream port %d out of range", apperr.ErrEdgeConfigInvalid, c.UpstreamPort)
	}
	if c.UpstreamScheme != "http" && c.UpstreamScheme != "https" {
		return fmt.Errorf("%w: upstream scheme %q must be http or https", apperr.ErrEdgeConfigInvalid, c.UpstreamScheme)
	}
	return nil
}

func validateDomain(domain string) error {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: domain %q needs at least two labels", apperr.ErrEdgeConfigInvalid, domain)
	}
	for _, label := range labels {
		if !rfc1123LabelPattern.MatchString(label) {
			return fmt.Errorf("%w: domain %q has invalid label %q", apperr.ErrEdgeConfigInvalid, domain, label)
		}
	}
	return nil
}

func validateUpstreamHost(host string) error {
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return nil
	}
	for _, label := range strings.Split(host, ".") {
		if !rfc1123LabelPattern.MatchString(label) {
			return fmt.Errorf("%w: upstream host %q is not localhost, an IPv4 address, or a DNS label sequence", apperr.ErrEdgeConfigInvalid, host)
		}
	}
	return nil
}

// Router renders, validates, and reloads nginx vhost configuration
// files on the host (§4.E).
type Router struct {
	sitesDir      string
	executor      *exec.Executor
	testCommand   []string
	reloadCommand []string
}

// NewRouter builds a Router writing vhosts under sitesDir.
func NewRouter(sitesDir string, executor *exec.Executor) *Router {
	return &Router{
		sitesDir:      sitesDir,
		executor:      executor,
		testCommand:   []string{"nginx", "-t"},
		reloadCommand: []string{"nginx", "-s", "reload"},
	}
}

// ConfigureProxy renders cfg to <sitesDir>/<domain>.conf, validates it
// with the host executor, and reloads nginx. If the config test or the
// reload fails it restores the previous file (or removes the new one if
// none existed) and returns ErrEdgeConfigInvalid; a failure to write the
// file is returned as a plain wrapped error.
func (r *Router) ConfigureProxy(ctx context.Context, cfg Config) error {
	logger := log.WithComponent("ingress").With().Str("domain", cfg.Domain).Logger()

	if err := cfg.Validate(); err != nil {
		return err
	}

	rendered, err := renderVhost(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrEdgeConfigInvalid, err)
	}

	path := filepath.Join(r.sitesDir, cfg.Domain+".conf")

	var previous []byte
	var hadPrevious bool
	if existing, err := os.ReadFile(path); err == nil {
		previous = existing
		hadPrevious = true
	}

	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	restore := func() {
		if hadPrevious {
			_ = os.WriteFile(path, previous, 0o644)
		} else {
			_ = os.Remove(path)
		}
	}

	if _, err := r.executor.Run(ctx, r.testCommand[0], r.testCommand[1:], exec.Options{Timeout: exec.DefaultProbeTimeout}); err != nil {
		restore()
		logger.Error().Err(err).Msg("nginx config test failed, restored previous config")
		return fmt.Errorf("%w: config test failed: %v", apperr.ErrEdgeConfigInvalid, err)
	}

	if _, err := r.executor.Run(ctx, r.reloadCommand[0], r.reloadCommand[1:], exec.Options{Timeout: exec.DefaultProbeTimeout}); err != nil {
		restore()
		logger.Error().Err(err).Msg("nginx reload failed, restored previous config")
		return fmt.Errorf("%w: reload failed: %v", apperr.ErrEdgeConfigInvalid, err)
	}

	logger.Info().Str("path", path).Msg("nginx vhost configured")
	return nil
}
