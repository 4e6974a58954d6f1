package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/exec"
)

// BuildSpec is the input to BuildImage: a git-checkout-and-build
// request absent from the teacher, which only ever pulls pre-built
// images. The dev-mode start command is validated against a reject
// list so deployments can't smuggle a dev server into production, and
// the root directory is validated against path traversal before it is
// ever joined onto the checkout path.
type BuildSpec struct {
	DeploymentID  string
	ProjectID     string
	RepoURL       string
	Ref           string
	RootDirectory string
	BuildCommand  string
	StartCommand  string
	WorkDir       string
}

// devModeStartCommands are start commands that launch a framework's dev
// server instead of its production process; buildImage overrides these
// rather than using them as given (§4.D step 5).
var devModeStartCommands = []string{"nodemon", "next dev", "ts-node", "tsx watch", "nuxt dev", "vite dev", "ng serve"}

// redactPatterns scrub build-log lines of values that look like secrets
// before they are forwarded to onLog (§4.D step 3).
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)\s*=\s*\S+`),
	regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://[^/\s:@]+:[^/\s@]+@`),
	regexp.MustCompile(`(?i)bearer\s+\S+`),
}

func redactLine(line string) string {
	out := line
	for _, re := range redactPatterns {
		out = re.ReplaceAllString(out, "[redacted]")
	}
	return out
}

// ValidateRootDirectory rejects a project root directory that escapes
// the checkout root via `..` or that is given as an absolute path
// (§4.D step 1).
func ValidateRootDirectory(dir string) error {
	if dir == "" {
		return nil
	}
	clean := filepath.ToSlash(dir)
	if strings.HasPrefix(clean, "/") {
		return fmt.Errorf("%w: %q must be relative to the checkout root", apperr.ErrInvalidRootDirectory, dir)
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes the checkout root", apperr.ErrInvalidRootDirectory, dir)
		}
	}
	return nil
}

// ValidateStartCommand reports whether cmd matches a known dev-mode
// pattern that buildImage must override rather than run (§4.D step 5).
func ValidateStartCommand(cmd string) error {
	trimmed := strings.ToLower(strings.TrimSpace(cmd))
	for _, devCmd := range devModeStartCommands {
		if strings.Contains(trimmed, devCmd) {
			return fmt.Errorf("%w: %q looks like a dev-mode command", apperr.ErrInvalidStartCommand, cmd)
		}
	}
	return nil
}

// ImageTag returns the deterministic tag a build produces, keyed by
// deployment id so concurrent builds of the same project never
// collide, and layering is cached per project across deployments via a
// shared build cache directory.
func ImageTag(deploymentID string) string {
	return fmt.Sprintf("apployd/%s:latest", deploymentID)
}

// BuildImage clones spec.RepoURL at spec.Ref, builds spec.RootDirectory
// with buildctl via the host executor, and produces a locally tagged
// image; spec.BuildCommand and spec.StartCommand are not executed here
// (the start command is only checked against the dev-mode list).
// onLog receives each redacted build-output line
// as it streams. Returns the image tag and the commit sha actually
// checked out, which may differ from spec.Ref when Ref is a branch
// name rather than a sha (§4.D's buildImage contract).
func (r *Runtime) BuildImage(ctx context.Context, spec BuildSpec, onLog func(line string)) (imageTag, sourceCommitSha string, err error) {
	logger := log.WithComponent("runtime").With().Str("deployment_id", spec.DeploymentID).Logger()
	executor := exec.New()

	if err := ValidateRootDirectory(spec.RootDirectory); err != nil {
		return "", "", err
	}

	workDir := spec.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "apployd-build", spec.DeploymentID)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating build workdir: %w", err)
	}

	wrappedOnLog := func(line string) {
		redacted := redactLine(line)
		logBuffers.getOrCreate(spec.DeploymentID).append(redacted)
		if onLog != nil {
			onLog(redacted)
		}
	}

	logger.Info().Str("repo", spec.RepoURL).Str("ref", spec.Ref).Msg("cloning repository")
	// git clone --branch accepts branch and tag names only, so a commit
	// sha is checked out after a full clone instead.
	refIsSha := regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`).MatchString(spec.Ref)
	cloneArgs := []string{"clone", "--depth", "1", "--branch", spec.Ref, spec.RepoURL, workDir}
	if refIsSha {
		cloneArgs = []string{"clone", spec.RepoURL, workDir}
	}
	if _, err := executor.Run(ctx, "git", cloneArgs, exec.Options{Timeout: exec.DefaultBuildTimeout}); err != nil {
		return "", "", fmt.Errorf("cloning repository: %w", err)
	}
	if refIsSha {
		if _, err := executor.Run(ctx, "git", []string{"checkout", "--detach", spec.Ref}, exec.Options{Timeout: exec.DefaultBuildTimeout, Dir: workDir}); err != nil {
			return "", "", fmt.Errorf("checking out commit: %w", err)
		}
	}

	revResult, err := executor.Run(ctx, "git", []string{"rev-parse", "HEAD"}, exec.Options{Timeout: exec.DefaultProbeTimeout, Dir: workDir})
	if err != nil {
		return "", "", fmt.Errorf("resolving commit sha: %w", err)
	}
	sourceCommitSha = strings.TrimSpace(revResult.Stdout)

	buildDir := workDir
	if spec.RootDirectory != "" {
		buildDir = filepath.Join(workDir, spec.RootDirectory)
	}

	if spec.StartCommand != "" {
		if err := ValidateStartCommand(spec.StartCommand); err != nil {
			logger.Warn().Str("start_command", spec.StartCommand).Msg("overriding dev-mode start command")
			wrappedOnLog(fmt.Sprintf("start command %q overridden: looks like a dev-mode command", spec.StartCommand))
		}
	}

	// Build cache is keyed per project so dependency layers are reused
	// across deployments of the same project.
	cacheDir := filepath.Join(os.TempDir(), "apployd-build-cache", spec.ProjectID)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating build cache dir: %w", err)
	}

	tag := ImageTag(spec.DeploymentID)
	buildArgs := []string{"build", "--cache-from", "type=local,src=" + cacheDir, "--cache-to", "type=local,dest=" + cacheDir, "-t", tag, buildDir}

	logger.Info().Str("tag", tag).Msg("building image")
	if err := executor.RunStreaming(ctx, "buildctl-daemonless.sh", buildArgs, exec.Options{Timeout: exec.DefaultBuildTimeout, Dir: buildDir}, wrappedOnLog); err != nil {
		return "", "", fmt.Errorf("building image: %w", err)
	}

	return tag, sourceCommitSha, nil
}
