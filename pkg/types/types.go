// Package types holds the core domain entities shared across the engine:
// organizations, subscriptions, servers, projects, deployments, containers,
// usage records, and the auditing/replay-protection support entities.
package types

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new opaque entity id. Callers treat ids as opaque strings
// (the wire contract calls them "cuid"-shaped); uuid is the concrete
// generator underneath.
func NewID() string {
	return uuid.New().String()
}

// SubscriptionStatus enumerates subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionUnpaid    SubscriptionStatus = "unpaid"
)

// ServerStatus enumerates server health states consulted by the scheduler.
type ServerStatus string

const (
	ServerHealthy  ServerStatus = "healthy"
	ServerDegraded ServerStatus = "degraded"
	ServerDraining ServerStatus = "draining"
	ServerOffline  ServerStatus = "offline"
)

// ServiceType enumerates the kinds of projects the builder recognizes.
type ServiceType string

const (
	ServiceWeb    ServiceType = "web_service"
	ServiceStatic ServiceType = "static_site"
	ServicePython ServiceType = "python"
)

// DomainStatus enumerates custom domain verification states.
type DomainStatus string

const (
	DomainPending DomainStatus = "pending"
	DomainActive  DomainStatus = "active"
	DomainFailed  DomainStatus = "failed"
)

// DeploymentEnvironment distinguishes production from preview deployments.
type DeploymentEnvironment string

const (
	EnvironmentProduction DeploymentEnvironment = "production"
	EnvironmentPreview    DeploymentEnvironment = "preview"
)

// DeploymentStatus enumerates the pipeline's state machine states (§4.K).
// Transitions are monotonic: queued -> building -> deploying -> ready, with
// failed/canceled reachable from building or deploying. rolled_back is
// defined but never set in this module: a Create with a reused image tag
// starts queued and skips the build stage like any other deployment.
type DeploymentStatus string

const (
	DeploymentQueued     DeploymentStatus = "queued"
	DeploymentBuilding   DeploymentStatus = "building"
	DeploymentDeploying  DeploymentStatus = "deploying"
	DeploymentReady      DeploymentStatus = "ready"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentCanceled   DeploymentStatus = "canceled"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// InProgress reports whether the status is one the pipeline still owns.
func (s DeploymentStatus) InProgress() bool {
	switch s {
	case DeploymentQueued, DeploymentBuilding, DeploymentDeploying:
		return true
	default:
		return false
	}
}

// ContainerStatus enumerates runtime container states.
type ContainerStatus string

const (
	ContainerPending  ContainerStatus = "pending"
	ContainerStarting ContainerStatus = "starting"
	ContainerRunning  ContainerStatus = "running"
	ContainerSleeping ContainerStatus = "sleeping"
	ContainerStopped  ContainerStatus = "stopped"
	ContainerCrashed  ContainerStatus = "crashed"
)

// SleepStatus enumerates a container's sleep/wake state, orthogonal to
// ContainerStatus so the action consumer (M) can flip it independently.
type SleepStatus string

const (
	SleepAwake    SleepStatus = "awake"
	SleepSleeping SleepStatus = "sleeping"
)

// MetricType enumerates the usage metrics the stats collector (N) records.
type MetricType string

const (
	MetricCPUMillicoreSeconds MetricType = "cpu_millicore_seconds"
	MetricRAMMbSeconds        MetricType = "ram_mb_seconds"
	MetricBandwidthBytes      MetricType = "bandwidth_bytes"
	MetricRequestCount        MetricType = "request_count"
)

// LogLevel enumerates structured log entry severities.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Organization is the billing and RBAC container.
type Organization struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	OwnerUserID string `json:"ownerUserId"`
}

// Subscription binds an organization to a plan and a resource pool.
type Subscription struct {
	ID                string             `json:"id"`
	OrganizationID    string             `json:"organizationId"`
	PlanCode          string             `json:"planCode"`
	Status            SubscriptionStatus `json:"status"`
	PeriodStart       time.Time          `json:"periodStart"`
	PeriodEnd         time.Time          `json:"periodEnd"`
	PoolRamMb         int64              `json:"poolRamMb"`
	PoolCpuMillicores int64              `json:"poolCpuMillicores"`
	PoolBandwidthGb   int64              `json:"poolBandwidthGb"`
	OverageEnabled    bool               `json:"overageEnabled"`
}

// Server is a capacity-accounted host the scheduler places containers on.
//
// Invariant: reserved <= total on every axis; reserved is the sum of
// resource* across projects whose active/pending containers live here.
type Server struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Region                string       `json:"region"`
	IPv4                  string       `json:"ipv4"`
	Status                ServerStatus `json:"status"`
	TotalRamMb            int64        `json:"totalRamMb"`
	TotalCpuMillicores    int64        `json:"totalCpuMillicores"`
	TotalBandwidthGb      int64        `json:"totalBandwidthGb"`
	ReservedRamMb         int64        `json:"reservedRamMb"`
	ReservedCpuMillicores int64        `json:"reservedCpuMillicores"`
	ReservedBandwidthGb   int64        `json:"reservedBandwidthGb"`
	MaxContainers         int          `json:"maxContainers"`
	CreatedAt             time.Time    `json:"createdAt"`
}

// AvailableRamMb returns the server's free RAM on the RAM axis.
func (s *Server) AvailableRamMb() int64 { return s.TotalRamMb - s.ReservedRamMb }

// AvailableCpuMillicores returns the server's free CPU on the CPU axis.
func (s *Server) AvailableCpuMillicores() int64 {
	return s.TotalCpuMillicores - s.ReservedCpuMillicores
}

// AvailableBandwidthGb returns the server's free bandwidth allowance.
func (s *Server) AvailableBandwidthGb() int64 { return s.TotalBandwidthGb - s.ReservedBandwidthGb }

// Project is one deployable application within an organization.
//
// Invariant: resource* is within plan entitlements and the org pool minus
// all other projects' resource*.
type Project struct {
	ID                        string      `json:"id"`
	OrganizationID            string      `json:"organizationId"`
	Slug                      string      `json:"slug"`
	GitProvider               string      `json:"gitProvider,omitempty"`
	RepoURL                   string      `json:"repoUrl,omitempty"`
	Branch                    string      `json:"branch"`
	Runtime                   string      `json:"runtime"`
	ServiceType               ServiceType `json:"serviceType"`
	InstallCommand            string      `json:"installCommand,omitempty"`
	BuildCommand              string      `json:"buildCommand,omitempty"`
	StartCommand              string      `json:"startCommand,omitempty"`
	RootDirectory             string      `json:"rootDirectory,omitempty"`
	TargetPort                int         `json:"targetPort"`
	AutoDeployEnabled         bool        `json:"autoDeployEnabled"`
	PreviewDeploymentsEnabled bool        `json:"previewDeploymentsEnabled"`
	SleepEnabled              bool        `json:"sleepEnabled"`
	AttackModeEnabled         bool        `json:"attackModeEnabled"`
	ResourceRamMb             int64       `json:"resourceRamMb"`
	ResourceCpuMillicore      int64       `json:"resourceCpuMillicore"`
	ResourceBandwidthGb       int64       `json:"resourceBandwidthGb"`
	ActiveDeploymentID        string      `json:"activeDeploymentId,omitempty"`
}

// CustomDomain is a verified domain alias routed to a project. Domains are
// globally unique and owned by exactly one project.
type CustomDomain struct {
	ID                string       `json:"id"`
	ProjectID         string       `json:"projectId"`
	Domain            string       `json:"domain"`
	CNAMETarget       string       `json:"cnameTarget"`
	VerificationToken string       `json:"verificationToken"`
	Status            DomainStatus `json:"status"`
}

// Deployment is one attempt to build and run a project's source.
type Deployment struct {
	ID               string                `json:"id"`
	ProjectID        string                `json:"projectId"`
	ServerID         string                `json:"serverId"`
	Environment      DeploymentEnvironment `json:"environment"`
	Status           DeploymentStatus      `json:"status"`
	Trigger          string                `json:"trigger"`
	GitURL           string                `json:"gitUrl"`
	Branch           string                `json:"branch,omitempty"`
	CommitSha        string                `json:"commitSha,omitempty"`
	ImageTag         string                `json:"imageTag,omitempty"`
	Domain           string                `json:"domain,omitempty"`
	BuildLogs        string                `json:"buildLogs,omitempty"`
	DeployLogs       string                `json:"deployLogs,omitempty"`
	ErrorMessage     string                `json:"errorMessage,omitempty"`
	CapacityReserved bool                  `json:"capacityReserved"`
	CreatedAt        time.Time             `json:"createdAt"`
	StartedAt        *time.Time            `json:"startedAt,omitempty"`
	FinishedAt       *time.Time            `json:"finishedAt,omitempty"`
	ContainerID      string                `json:"containerId,omitempty"`
}

// Container is a running (or previously running) instance of a deployment's
// image. A row exists only after a successful run.
type Container struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"projectId"`
	ServerID          string          `json:"serverId"`
	DockerContainerID string          `json:"dockerContainerId"`
	ImageTag          string          `json:"imageTag"`
	InternalPort      int             `json:"internalPort"`
	HostPort          int             `json:"hostPort"`
	Status            ContainerStatus `json:"status"`
	SleepStatus       SleepStatus     `json:"sleepStatus"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	StoppedAt         *time.Time      `json:"stoppedAt,omitempty"`
	LastRequestAt     *time.Time      `json:"lastRequestAt,omitempty"`
}

// UsageRecord is one billable sample produced by the stats collector (N).
type UsageRecord struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	SubscriptionID string     `json:"subscriptionId"`
	ProjectID      string     `json:"projectId"`
	MetricType     MetricType `json:"metricType"`
	Quantity       int64      `json:"quantity"`
	Unit           string     `json:"unit"`
	RecordedAt     time.Time  `json:"recordedAt"`
}

// LogEntry is one structured application/pipeline log line retained for
// the dashboard to display (not the engine's own process logs).
type LogEntry struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	DeploymentID string    `json:"deploymentId,omitempty"`
	ContainerID  string    `json:"containerId,omitempty"`
	Level        LogLevel  `json:"level"`
	Source       string    `json:"source"`
	Message      string    `json:"message"`
	Metadata     string    `json:"metadata,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// OrganizationInvite tracks a pending team invite. Used by the core only
// for auditing.
type OrganizationInvite struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AuditLog records one auditable action against an entity.
type AuditLog struct {
	ID          string    `json:"id"`
	ActorUserID string    `json:"actorUserId,omitempty"`
	Action      string    `json:"action"`
	TargetType  string    `json:"targetType"`
	TargetID    string    `json:"targetId"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WebhookEvent records an inbound webhook's idempotency key so replays are
// detected and treated as success rather than re-processed.
type WebhookEvent struct {
	EventID    string    `json:"eventId"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"receivedAt"`
}
