// Package tls implements the TLS adapter (§4.F): EnsureCertificate
// idempotently acquires or renews a Let's Encrypt certificate for a
// domain and its aliases, serving ACME HTTP-01 challenges from the
// well-known path the edge router (pkg/ingress) already exposes.
// Adapted from the teacher's pkg/ingress/acme.go, generalized from
// warren's in-process proxy challenge hand-off to writing challenge
// files directly under the nginx well-known root.
package tls
