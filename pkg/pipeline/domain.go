package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/apployd/engine/pkg/types"
)

var (
	disallowedLabelChars = regexp.MustCompile(`[^a-z0-9-]`)
	collapseDashes       = regexp.MustCompile(`-+`)
)

// sanitizeLabel implements §6's generated-domain label rule: lowercase,
// disallowed characters become '-', runs collapse, trim, truncate to 63.
func sanitizeLabel(s string) string {
	s = strings.ToLower(s)
	s = disallowedLabelChars.ReplaceAllString(s, "-")
	s = collapseDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

// refHash is the 6-hex SHA-1 prefix §6's project_ref preview style uses.
func refHash(ref string) string {
	sum := sha1.Sum([]byte(ref))
	return hex.EncodeToString(sum[:])[:6]
}

// GenerateDomain implements §6's "Generated domain" rule.
func GenerateDomain(project *types.Project, org *types.Organization, environment types.DeploymentEnvironment, baseDomain, previewBaseDomain, previewStyle, ref string) string {
	projectSlug := sanitizeLabel(project.Slug)
	orgSlug := sanitizeLabel(org.Slug)

	if environment == types.EnvironmentProduction {
		return projectSlug + "." + orgSlug + "." + baseDomain
	}

	if previewStyle == "project_ref" {
		refLabel := sanitizeLabel(ref)
		if len(refLabel) > 20 {
			refLabel = refLabel[:20]
		}
		return projectSlug + "-" + refLabel + "-" + refHash(ref) + "." + orgSlug + "." + previewBaseDomain
	}
	return projectSlug + "." + previewBaseDomain
}

// CNAMETarget implements §6's CNAME target rule for custom domains.
func CNAMETarget(project *types.Project, org *types.Organization, baseDomain string) string {
	return sanitizeLabel(project.Slug) + "." + sanitizeLabel(org.Slug) + "." + baseDomain
}
