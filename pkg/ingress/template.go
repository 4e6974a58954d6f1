package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"text/template"
)

// vhostTemplateText renders one nginx server block per Config. Strict
// placeholder substitution: the domain, aliases and upstream
// host/port/scheme are validated by Config.Validate before rendering;
// WakePath, CertPath and KeyPath are inserted as given.
const vhostTemplateText = `
{{- if .AttackModeEnabled }}
limit_req_zone $binary_remote_addr zone=rl_{{ .ZoneKey }}:10m rate=15r/s;
limit_conn_zone $binary_remote_addr zone=cl_{{ .ZoneKey }}:10m;
{{- end }}

server {
    listen 80;
    server_name {{ .Domain }}{{ range .Aliases }} {{ . }}{{ end }};

    {{- if .AttackModeEnabled }}
    limit_req zone=rl_{{ .ZoneKey }} burst=30 nodelay;
    limit_req_status 429;
    limit_conn cl_{{ .ZoneKey }} 20;
    limit_conn_status 429;
    {{- end }}

    {{- if .TLSEnabled }}
    listen 443 ssl;
    ssl_certificate {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
    {{- end }}

    location /.well-known/acme-challenge/ {
        root /var/www/acme-challenge;
    }

    {{- if .WakePath }}
    error_page 502 503 504 = @error_fallback;

    location @error_fallback {
        internal;
        proxy_set_header X-Wake-Token "$wake_token";
        proxy_set_header X-Original-URI $request_uri;
        proxy_set_header X-Original-Method $request_method;
        proxy_set_header X-Upstream-Status $upstream_status;
        proxy_pass {{ .WakePath }};
        error_page 503 = @wake_fallback_html;
    }

    location @wake_fallback_html {
        internal;
        default_type text/html;
        return 503 '<html><body><h1>Starting up…</h1><p>Your deployment is waking up. Try again shortly.</p></body></html>';
    }
    {{- end }}

    location / {
        proxy_pass {{ .UpstreamScheme }}://{{ .UpstreamHost }}:{{ .UpstreamPort }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`

var vhostTemplate = template.Must(template.New("vhost").Parse(vhostTemplateText))

type vhostData struct {
	Domain            string
	Aliases           []string
	UpstreamHost      string
	UpstreamPort      int
	UpstreamScheme    string
	AttackModeEnabled bool
	WakePath          string
	TLSEnabled        bool
	CertPath          string
	KeyPath           string
	ZoneKey           string
}

// zoneKey hashes the domain into a short hex token usable as an nginx
// zone name (which forbids dots).
func zoneKey(domain string) string {
	sum := sha256.Sum256([]byte(domain))
	return hex.EncodeToString(sum[:])[:12]
}

func renderVhost(cfg Config) (string, error) {
	data := vhostData{
		Domain:            cfg.Domain,
		Aliases:           cfg.Aliases,
		UpstreamHost:      cfg.UpstreamHost,
		UpstreamPort:      cfg.UpstreamPort,
		UpstreamScheme:    cfg.UpstreamScheme,
		AttackModeEnabled: cfg.AttackModeEnabled,
		WakePath:          cfg.WakePath,
		TLSEnabled:        cfg.TLS(),
		CertPath:          cfg.CertPath,
		KeyPath:           cfg.KeyPath,
		ZoneKey:           zoneKey(cfg.Domain),
	}

	var out strings.Builder
	if err := vhostTemplate.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
