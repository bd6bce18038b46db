package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/logging"
)

const dockerfilePath = "docker/Dockerfile"

// ImageExists reports whether the docker image is present locally.
func ImageExists(ctx context.Context, image string) bool {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", image)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// BuildImage builds the agent image from the project Dockerfile.
func BuildImage(ctx context.Context, image string) error {
	logging.New("agent").Info("building agent image", "image", image)
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", image, "-f", dockerfilePath, ".")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("building image %s: %w", image, err)
	}
	return nil
}

// EnsureImage builds the agent image if it is not already present.
func EnsureImage(ctx context.Context, image string) error {
	if ImageExists(ctx, image) {
		return nil
	}
	return BuildImage(ctx, image)
}

// dockerRunArgs builds the docker run arguments that wrap an agent command:
// the workspace is mounted at /workspace, the compose project is namespaced
// per worker, and the git identity is injected for agent commits.
func dockerRunArgs(cfg config.AgentConfig, opts RunOpts, authorName, authorEmail string) []string {
	composeProject := fmt.Sprintf("drover_agent_%d", opts.WorkerID)
	home, _ := os.UserHomeDir()

	args := []string{
		"run", "--rm",
		"--group-add", dockerSockGID(),
		"-e", fmt.Sprintf("AGENT_ID=%d", opts.WorkerID),
		"-e", "COMPOSE_PROJECT_NAME=" + composeProject,
		"-e", "HOST_WORKSPACE=" + opts.WorkDir,
		"-e", "IS_SANDBOX=1",
		"-e", "GIT_AUTHOR_NAME=" + authorName,
		"-e", "GIT_AUTHOR_EMAIL=" + authorEmail,
		"-e", "GIT_COMMITTER_NAME=" + authorName,
		"-e", "GIT_COMMITTER_EMAIL=" + authorEmail,
		"-v", "/var/run/docker.sock:/var/run/docker.sock",
		"-v", opts.WorkDir + ":/workspace",
	}
	if home != "" {
		args = append(args,
			"-v", home+"/.claude:/home/agent/.claude",
			"-v", home+"/.config/claude:/home/agent/.config/claude",
		)
	}
	args = append(args, "-w", "/workspace", cfg.Image)
	return args
}
