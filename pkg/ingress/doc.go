// Package ingress implements the edge router adapter (§4.E): it
// renders a per-domain nginx vhost from a template, validates it with
// the host executor's `nginx -t`, reloads nginx, and restores the
// previous file on any failure. The teacher's pkg/ingress ran an
// in-process Go reverse proxy (proxy.go/router.go/loadbalancer.go);
// this package keeps its render-then-reload-then-rollback idiom
// (ReloadIngresses/ReloadTLSCertificates) but renders nginx config text
// instead of building an http.Handler chain, since the spec routes
// through a real reverse-proxy binary.
package ingress
