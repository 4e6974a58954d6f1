package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/internal/secrets"
)

const renewalThreshold = 30 * 24 * time.Hour

// Certificate is a stored TLS certificate for a domain + its aliases.
type Certificate struct {
	Domain    string
	Aliases   []string
	CertPEM   []byte
	KeyPEM    []byte
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// Store persists issued certificates. Implemented by pkg/storage.
type Store interface {
	GetCertificate(ctx context.Context, domain string) (*Certificate, bool, error)
	SaveCertificate(ctx context.Context, cert *Certificate) error
}

// acmeUser implements lego's registration.User.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// http01Provider serves ACME HTTP-01 challenges by writing the key
// authorization under the edge router's well-known challenge root
// (pkg/ingress's vhost template points /.well-known/acme-challenge/ at
// the same directory).
type http01Provider struct {
	challengeRoot string
	mu            sync.Mutex
}

func (p *http01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.challengeRoot, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.challengeRoot, token), []byte(keyAuth), 0o644)
}

func (p *http01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return os.Remove(filepath.Join(p.challengeRoot, token))
}

// Manager issues and renews certificates via ACME.
type Manager struct {
	store  Store
	client *lego.Client
	user   *acmeUser
	mu     sync.Mutex
}

// NewManager registers (or re-registers, if accountKeyPath holds a key
// from a prior run) an ACME account with the given CA directory URL
// ("" defaults to Let's Encrypt staging, matching the teacher's own
// default) and challengeRoot (the directory pkg/ingress's vhost
// template serves /.well-known/acme-challenge/ from). The account key
// is persisted AES-256-GCM-encrypted via box, adapted from the
// teacher's pkg/security/secrets.go SecretsManager, so restarts reuse
// the same ACME account instead of registering a fresh one every time.
func NewManager(email, caDirURL, challengeRoot, accountKeyPath string, box *secrets.Box, store Store) (*Manager, error) {
	privateKey, err := loadOrGenerateAccountKey(accountKeyPath, box)
	if err != nil {
		return nil, fmt.Errorf("loading ACME account key: %w", err)
	}

	user := &acmeUser{email: email, key: privateKey}

	config := lego.NewConfig(user)
	if caDirURL == "" {
		caDirURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
	}
	config.CADirURL = caDirURL
	config.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating ACME client: %w", err)
	}

	provider := &http01Provider{challengeRoot: challengeRoot}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("setting HTTP-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("registering ACME account: %w", err)
	}
	user.registration = reg

	return &Manager{store: store, client: client, user: user}, nil
}

func loadOrGenerateAccountKey(path string, box *secrets.Box) (*ecdsa.PrivateKey, error) {
	if sealed, err := os.ReadFile(path); err == nil {
		der, err := box.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("decrypting stored account key: %w", err)
		}
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing stored account key: %w", err)
		}
		return key, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling account key: %w", err)
	}
	sealed, err := box.Seal(der)
	if err != nil {
		return nil, fmt.Errorf("encrypting account key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating account key directory: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, fmt.Errorf("persisting account key: %w", err)
	}
	return key, nil
}

// EnsureCertificate idempotently acquires or renews a certificate
// covering domain and aliases (§4.F). Fails with
// apperr.ErrCertificateIssuanceFailed.
func (m *Manager) EnsureCertificate(ctx context.Context, domain string, aliases []string) (*Certificate, error) {
	logger := log.WithComponent("tls").With().Str("domain", domain).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found, err := m.store.GetCertificate(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	if found && time.Until(existing.NotAfter) > renewalThreshold {
		return existing, nil
	}

	domains := append([]string{domain}, aliases...)
	logger.Info().Strs("domains", domains).Bool("renewal", found).Msg("requesting certificate")

	cert, err := m.obtain(domains, existing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCertificateIssuanceFailed, err)
	}

	if err := m.store.SaveCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("saving certificate: %w", err)
	}

	logger.Info().Time("not_after", cert.NotAfter).Msg("certificate ready")
	return cert, nil
}

func (m *Manager) obtain(domains []string, existing *Certificate) (*Certificate, error) {
	var (
		resource *certificate.Resource
		err      error
	)

	if existing != nil {
		resource, err = m.client.Certificate.Renew(certificate.Resource{
			Certificate: existing.CertPEM,
			PrivateKey:  existing.KeyPEM,
		}, true, false, "")
	} else {
		resource, err = m.client.Certificate.Obtain(certificate.ObtainRequest{
			Domains: domains,
			Bundle:  true,
		})
	}
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(resource.Certificate)
	if block == nil {
		return nil, fmt.Errorf("decoding certificate PEM")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	return &Certificate{
		Domain:    domains[0],
		Aliases:   domains[1:],
		CertPEM:   resource.Certificate,
		KeyPEM:    resource.PrivateKey,
		Issuer:    parsed.Issuer.CommonName,
		NotBefore: parsed.NotBefore,
		NotAfter:  parsed.NotAfter,
	}, nil
}
