// Package dns implements the optional DNS adapter (§4.G): UpsertARecord
// idempotently points a custom domain's A record at the edge's public
// IPv4 address. The teacher's pkg/dns ran an embedded miekg/dns service-
// discovery server resolving internal service names; that has no
// counterpart in this spec; this package instead talks to an external
// DNS provider's REST API, with a no-op adapter for when provider
// credentials are absent (the pipeline then skips the DNS stage and
// logs the omission, per §4.G).
package dns
