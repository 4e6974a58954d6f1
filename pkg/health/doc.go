// Package health provides HTTP and TCP health checkers plus a
// consecutive-failure/success Status tracker. The container runtime
// adapter's healthCheck (§4.D) composes HTTPChecker and TCPChecker
// directly rather than going through the generic Checker interface,
// since it needs the exact attempt/backoff/log-cadence algorithm the
// spec names; this package supplies the checks, not the polling loop.
package health
