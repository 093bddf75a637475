package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// shellEvaluator runs eval code with `shell -c`. The reply value is the
// command's trimmed standard output.
type shellEvaluator struct {
	shell   string
	timeout time.Duration
}

func (e shellEvaluator) Eval(ctx context.Context, code string) (any, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.shell, "-c", code)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}
