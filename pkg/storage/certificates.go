package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/apployd/engine/pkg/tls"
)

// GetCertificate satisfies pkg/tls.Store.
func (s *Store) GetCertificate(ctx context.Context, domain string) (*tls.Certificate, bool, error) {
	var cert tls.Certificate
	err := s.pool.QueryRow(ctx, `
		SELECT domain, aliases, cert_pem, key_pem, issuer, not_before, not_after
		FROM tls_certificates WHERE domain = $1`, domain).
		Scan(&cert.Domain, &cert.Aliases, &cert.CertPEM, &cert.KeyPEM, &cert.Issuer, &cert.NotBefore, &cert.NotAfter)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &cert, true, nil
}

// SaveCertificate satisfies pkg/tls.Store: upserts by domain.
func (s *Store) SaveCertificate(ctx context.Context, cert *tls.Certificate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tls_certificates (domain, aliases, cert_pem, key_pem, issuer, not_before, not_after)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (domain) DO UPDATE SET
			aliases = EXCLUDED.aliases, cert_pem = EXCLUDED.cert_pem, key_pem = EXCLUDED.key_pem,
			issuer = EXCLUDED.issuer, not_before = EXCLUDED.not_before, not_after = EXCLUDED.not_after`,
		cert.Domain, cert.Aliases, cert.CertPEM, cert.KeyPEM, cert.Issuer, cert.NotBefore, cert.NotAfter)
	return err
}
