// Package hashscan implements the hash-scan probe: content digests for a
// set of files, used to spot tampering by comparing runs. Directories are
// walked recursively up to a file cap. Local targets hash in-process with a
// streaming reader; remote targets use the platform's checksum tools.
package hashscan

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindHashScan, New)
}

// Digest algorithms. sha256 is the default; md5 and sha1 remain selectable
// for comparing against vendor manifests that still publish them.
const (
	AlgoSHA256 = "sha256"
	AlgoSHA1   = "sha1"
	AlgoMD5    = "md5"
)

// DefaultMaxFiles caps a directory walk so a scan pointed at / cannot run
// away.
const DefaultMaxFiles = 10000

// errFileCap stops a walk once the cap is reached; the partial result is
// still reported, flagged as truncated.
var errFileCap = errors.New("file cap reached")

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe hashes files and directory trees.
type Probe struct {
	paths    []string
	algo     string
	maxFiles int

	dial dialFunc
}

// New builds the probe. Parameters: paths (required, files or directories),
// algo (sha256, sha1, or md5), max-files (directory walk cap).
func New(params map[string]any) (probe.Probe, error) {
	paths, err := probe.GetStringSlice(params, "paths", nil)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("parameter 'paths' is required")
	}

	p := &Probe{
		paths:    paths,
		algo:     probe.GetString(params, "algo", AlgoSHA256),
		maxFiles: probe.GetInt(params, "max-files", DefaultMaxFiles),
		dial:     probe.Connect,
	}
	switch p.algo {
	case AlgoSHA256, AlgoSHA1, AlgoMD5:
	default:
		return nil, fmt.Errorf("parameter 'algo' must be sha256, sha1, or md5, got %q", p.algo)
	}
	if p.maxFiles < 1 {
		return nil, fmt.Errorf("parameter 'max-files' must be at least 1, got %d", p.maxFiles)
	}
	return p, nil
}

func (p *Probe) Kind() string { return probe.KindHashScan }

func (p *Probe) Describe() string {
	return fmt.Sprintf("%s digests of %s", p.algo, strings.Join(p.paths, ", "))
}

// Run hashes every requested path on one target. A missing path is a probe
// failure; hitting the walk cap truncates the result but still succeeds.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	if t.IsLocal() {
		return p.runLocal(ctx, t)
	}
	return p.runRemote(ctx, t)
}

func (p *Probe) runLocal(ctx context.Context, t *target.Target) *probe.Result {
	var (
		files      []map[string]any
		totalBytes int64
		truncated  bool
	)

	for _, root := range p.paths {
		info, err := os.Stat(root)
		if err != nil {
			return probe.Failure(t, probe.ErrProbe, err)
		}

		switch {
		case info.Mode().IsRegular():
			if len(files) >= p.maxFiles {
				truncated = true
				continue
			}
			entry, err := p.hashOne(ctx, root)
			if err != nil {
				return p.localFailure(ctx, t, err)
			}
			files = append(files, entry)
			totalBytes += entry["size"].(int64)

		case info.IsDir():
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !d.Type().IsRegular() {
					return nil
				}
				if len(files) >= p.maxFiles {
					return errFileCap
				}
				entry, err := p.hashOne(ctx, path)
				if err != nil {
					return err
				}
				files = append(files, entry)
				totalBytes += entry["size"].(int64)
				return nil
			})
			if errors.Is(err, errFileCap) {
				truncated = true
			} else if err != nil {
				return p.localFailure(ctx, t, err)
			}

		default:
			return probe.Failuref(t, probe.ErrProbe, "%s is not a regular file or directory", root)
		}
	}

	payload := map[string]any{
		"files":       files,
		"algo":        p.algo,
		"file_count":  len(files),
		"total_bytes": totalBytes,
	}
	if truncated {
		payload["truncated"] = true
	}
	return probe.Success(t, p.summary(len(files), truncated), payload)
}

func (p *Probe) localFailure(ctx context.Context, t *target.Target, err error) *probe.Result {
	if ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return probe.Failure(t, probe.ErrProbe, err)
}

// hashOne streams one file through the digest.
func (p *Probe) hashOne(ctx context.Context, path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := p.newHash()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return map[string]any{
		"path":   path,
		"digest": hex.EncodeToString(h.Sum(nil)),
		"size":   size,
	}, nil
}

func (p *Probe) newHash() hash.Hash {
	switch p.algo {
	case AlgoSHA1:
		return sha1.New()
	case AlgoMD5:
		return md5.New()
	default:
		return sha256.New()
	}
}

// runRemote hashes with the target's own checksum tools. One pipeline per
// path handles files and directories alike: find lists regular files, the
// loop prints "digest size path" per file.
func (p *Probe) runRemote(ctx context.Context, t *target.Target) *probe.Result {
	conn, err := p.dial(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrConnection, err)
	}
	defer conn.Close()

	var (
		files      []map[string]any
		totalBytes int64
		truncated  bool
	)

	for _, root := range p.paths {
		quoted := shellQuote(root)

		exists, err := conn.Execute(ctx, "test -e "+quoted)
		if err != nil {
			return p.remoteFailure(ctx, t, err)
		}
		if exists.ExitCode != 0 {
			return probe.Failuref(t, probe.ErrProbe, "stat %s: no such file or directory", root)
		}

		remaining := p.maxFiles - len(files)
		if remaining <= 0 {
			truncated = true
			break
		}

		cmd := fmt.Sprintf(
			`find %s -type f 2>/dev/null | head -n %d | while IFS= read -r f; do printf '%%s %%s %%s\n' "$(%ssum "$f" | cut -d' ' -f1)" "$(wc -c < "$f")" "$f"; done`,
			quoted, remaining+1, p.algo)
		result, err := conn.Execute(ctx, cmd)
		if err != nil {
			return p.remoteFailure(ctx, t, err)
		}
		if result.ExitCode != 0 {
			return probe.Failuref(t, probe.ErrProbe, "hashing %s: exit %d: %s",
				root, result.ExitCode, strings.TrimSpace(result.Stderr))
		}

		entries, err := parseRemoteDigests(result.Stdout)
		if err != nil {
			return probe.Failure(t, probe.ErrProbe, err)
		}
		if len(entries) > remaining {
			entries = entries[:remaining]
			truncated = true
		}
		for _, e := range entries {
			files = append(files, e)
			totalBytes += e["size"].(int64)
		}
	}

	payload := map[string]any{
		"files":       files,
		"algo":        p.algo,
		"file_count":  len(files),
		"total_bytes": totalBytes,
	}
	if truncated {
		payload["truncated"] = true
	}
	return probe.Success(t, p.summary(len(files), truncated), payload)
}

func (p *Probe) remoteFailure(ctx context.Context, t *target.Target, err error) *probe.Result {
	if ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return probe.Failure(t, probe.ErrProbe, err)
}

// parseRemoteDigests reads "digest size path" lines. Paths may contain
// spaces, so only the first two fields are split off. Some wc variants pad
// the count, hence the trimming between fields.
func parseRemoteDigests(out string) ([]map[string]any, error) {
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		digest, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unexpected digest line %q", line)
		}
		sizeStr, path, ok := strings.Cut(strings.TrimLeft(rest, " "), " ")
		if !ok {
			return nil, fmt.Errorf("unexpected digest line %q", line)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected size in digest line %q", line)
		}
		entries = append(entries, map[string]any{
			"path":   path,
			"digest": digest,
			"size":   size,
		})
	}
	return entries, nil
}

func (p *Probe) summary(count int, truncated bool) string {
	if truncated {
		return fmt.Sprintf("%d file(s) hashed (truncated at %d)", count, p.maxFiles)
	}
	return fmt.Sprintf("%d file(s) hashed", count)
}

// shellQuote wraps a string in single quotes for safe shell usage.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
