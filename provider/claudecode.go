package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// claudeCompleter shells out to a locally installed claude-code CLI in
// print mode. The prompt goes over stdin.
type claudeCompleter struct {
	binary string
	model  string
}

func newClaudeCode(model, binary string) *claudeCompleter {
	return &claudeCompleter{binary: binary, model: model}
}

func (c *claudeCompleter) available(context.Context) (bool, error) {
	if _, err := exec.LookPath(c.binary); err != nil {
		return false, fmt.Errorf("claude-code binary %q: %w", c.binary, err)
	}
	return true, nil
}

func (c *claudeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	args := []string{"-p", "--output-format", "text"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("claude-code: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("claude-code: empty output")
	}
	return out, nil
}
