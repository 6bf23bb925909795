package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"l10nboard/internal/services"
)

// NullRevision is Mercurial's id for "no parent".
const NullRevision = "0000000000000000000000000000000000000000"

const (
	fieldSep = "\x1f"
	fileSep  = "\x1e"
)

// logTemplate renders one changeset as fieldSep-delimited fields with the
// description last so it may contain anything.
var logTemplate = strings.Join([]string{
	"{node}", "{p1node}", "{p2node}", "{author}", "{branch}",
	"{join(files, '" + fileSep + "')}", "{desc}",
}, fieldSep)

// ChangesetInfo is the metadata of a single changeset as reported by the VCS.
type ChangesetInfo struct {
	Revision    string
	Parents     []string
	Author      string
	Description string
	Branch      string
	Files       []string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir, binary string, args []string) ([]byte, error)
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps hg CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// New constructs an hg client. A zero timeout disables per-command deadlines.
func New(binary string, timeout time.Duration, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("hg binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: timeout,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args = append([]string{"--noninteractive"}, args...)
	return c.exec.Run(ctx, dir, c.binary, args)
}

// Clone creates a bare (no working copy) clone of url at dest.
func (c *Client) Clone(ctx context.Context, url, dest string) error {
	if _, err := c.run(ctx, "", "clone", "--noupdate", url, dest); err != nil {
		return services.Wrap(services.ErrVCS, "hg", "clone", url, err)
	}
	return nil
}

// Pull fetches changesets from source into the repository at dir.
func (c *Client) Pull(ctx context.Context, dir, source string) error {
	if _, err := c.run(ctx, dir, "pull", "--repository", dir, source); err != nil {
		return services.Wrap(services.ErrVCS, "hg", "pull", source, err)
	}
	return nil
}

// Verify checks that dir holds a usable repository.
func (c *Client) Verify(ctx context.Context, dir string) error {
	if _, err := c.run(ctx, dir, "root", "--repository", dir); err != nil {
		return services.Wrap(services.ErrVCS, "hg", "verify", dir, err)
	}
	return nil
}

// Log resolves revision in the repository at dir.
func (c *Client) Log(ctx context.Context, dir, revision string) (*ChangesetInfo, error) {
	out, err := c.run(ctx, dir, "log", "--repository", dir, "--rev", revision, "--template", logTemplate)
	if err != nil {
		if isUnknownRevision(err) {
			return nil, services.Wrap(services.ErrNotFound, "hg", "log", fmt.Sprintf("unknown revision %q", revision), err)
		}
		return nil, services.Wrap(services.ErrVCS, "hg", "log", revision, err)
	}
	info, err := parseLog(out)
	if err != nil {
		return nil, services.Wrap(services.ErrVCS, "hg", "log", revision, err)
	}
	return info, nil
}

// Identify returns the full revision of the default branch head at url.
func (c *Client) Identify(ctx context.Context, url string) (string, error) {
	out, err := c.run(ctx, "", "identify", "--debug", "--id", "--rev", "default", url)
	if err != nil {
		return "", services.Wrap(services.ErrVCS, "hg", "identify", url, err)
	}
	rev := strings.TrimSpace(string(out))
	if len(rev) != len(NullRevision) {
		return "", services.Wrap(services.ErrVCS, "hg", "identify", fmt.Sprintf("unexpected output %q", rev), nil)
	}
	return rev, nil
}

func parseLog(out []byte) (*ChangesetInfo, error) {
	text := string(out)
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty log output")
	}
	fields := strings.SplitN(text, fieldSep, 7)
	if len(fields) != 7 {
		return nil, fmt.Errorf("malformed log output: %d fields", len(fields))
	}
	info := &ChangesetInfo{
		Revision:    strings.TrimSpace(fields[0]),
		Author:      fields[3],
		Branch:      fields[4],
		Description: fields[6],
	}
	if info.Branch == "" {
		info.Branch = "default"
	}
	for _, parent := range fields[1:3] {
		parent = strings.TrimSpace(parent)
		if parent != "" && parent != NullRevision {
			info.Parents = append(info.Parents, parent)
		}
	}
	if len(info.Parents) == 0 {
		// Commits without parents hang off the synthetic root.
		info.Parents = []string{NullRevision}
	}
	if fields[5] != "" {
		info.Files = strings.Split(fields[5], fileSep)
	}
	return info, nil
}

func isUnknownRevision(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unknown revision") ||
		strings.Contains(msg, "ambiguous identifier") ||
		strings.Contains(msg, "filtered revision")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, dir, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", binary, args[len(args)-1], ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return nil, fmt.Errorf("%s: %w", binary, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", binary, err, detail)
	}
	return stdout.Bytes(), nil
}
