package summary

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandSynthesizer pipes the briefing text into an external text-to-speech
// command. The output file path is appended as the last argument.
type CommandSynthesizer struct {
	command []string
	dir     string
}

// NewCommandSynthesizer returns nil when no command is configured, which
// disables audio.
func NewCommandSynthesizer(command, dir string) Synthesizer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if dir == "" {
		dir = "briefings"
	}
	return &CommandSynthesizer{command: fields, dir: dir}
}

func (c *CommandSynthesizer) Synthesize(ctx context.Context, summaryID int64, text string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	name := fmt.Sprintf("briefing_%d.mp3", summaryID)
	out := filepath.Join(c.dir, name)

	args := append(append([]string{}, c.command[1:]...), out)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: %s", c.command[0], err, strings.TrimSpace(stderr.String()))
	}
	return name, nil
}
