package ingress

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// RouteMode selects which scheme(s) waitForRouteReady must probe.
type RouteMode string

const (
	RouteModeHTTP   RouteMode = "http"
	RouteModeHTTPS  RouteMode = "https"
	RouteModeEither RouteMode = "either"
)

// RouteStatus is waitForRouteReady's result.
type RouteStatus struct {
	HTTPStatus  int
	HTTPSStatus int
}

var unreadyStatuses = map[int]bool{0: true, 502: true, 503: true, 504: true}

func probeStatus(ctx context.Context, client *http.Client, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

// WaitForRouteReady polls domain every second until its status is not
// one of {000, 502, 503, 504} (per mode) or timeoutSeconds elapses,
// returning the last probe observed either way (§4.E).
func WaitForRouteReady(ctx context.Context, domain string, mode RouteMode, timeoutSeconds int) RouteStatus {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)

	var status RouteStatus
	for {
		if mode == RouteModeHTTP || mode == RouteModeEither {
			status.HTTPStatus = probeStatus(ctx, client, fmt.Sprintf("http://%s/", domain))
		}
		if mode == RouteModeHTTPS || mode == RouteModeEither {
			status.HTTPSStatus = probeStatus(ctx, client, fmt.Sprintf("https://%s/", domain))
		}

		ready := true
		if mode == RouteModeHTTP || mode == RouteModeEither {
			ready = ready && !unreadyStatuses[status.HTTPStatus]
		}
		if mode == RouteModeHTTPS || mode == RouteModeEither {
			ready = ready && !unreadyStatuses[status.HTTPSStatus]
		}
		if mode == RouteModeEither {
			ready = !unreadyStatuses[status.HTTPStatus] || !unreadyStatuses[status.HTTPSStatus]
		}

		if ready || time.Now().After(deadline) {
			return status
		}

		select {
		case <-ctx.Done():
			return status
		case <-time.After(time.Second):
		}
	}
}

// UpstreamStatus is waitForUpstreamReachable's result.
type UpstreamStatus struct {
	HTTPStatus    int
	HTTPSStatus   int
	TCPReachable bool
}

// WaitForUpstreamReachable polls an upstream host:port every second
// until it is TCP-reachable or timeoutSeconds elapses (§4.E).
func WaitForUpstreamReachable(ctx context.Context, host string, port int, timeoutSeconds int) UpstreamStatus {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	addr := fmt.Sprintf("%s:%d", host, port)

	var status UpstreamStatus
	for {
		dialer := net.Dialer{Timeout: 2 * time.Second}
		if conn, err := dialer.DialContext(ctx, "tcp", addr); err == nil {
			conn.Close()
			status.TCPReachable = true
		} else {
			status.TCPReachable = false
		}

		status.HTTPStatus = probeStatus(ctx, client, fmt.Sprintf("http://%s/", addr))

		if status.TCPReachable || time.Now().After(deadline) {
			return status
		}

		select {
		case <-ctx.Done():
			return status
		case <-time.After(time.Second):
		}
	}
}
