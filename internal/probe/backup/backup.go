// Package backup implements the backup-sync probe: recursive copy of a
// source tree with checksum-based skipping, so repeated runs only move what
// changed. Local targets copy on the filesystem; remote targets receive the
// controller's tree through the connector.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindBackupSync, New)
}

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe synchronizes a source path to a destination.
type Probe struct {
	src      string
	dst      string
	checksum bool

	dial dialFunc
}

// New builds the probe. Parameters: src (file or directory on the machine
// dcadm runs on), dst (destination directory for a directory source, file
// path for a file source), checksum (skip files whose content already
// matches, default true).
func New(params map[string]any) (probe.Probe, error) {
	src, err := probe.RequireString(params, "src")
	if err != nil {
		return nil, err
	}
	dst, err := probe.RequireString(params, "dst")
	if err != nil {
		return nil, err
	}
	return &Probe{
		src:      src,
		dst:      dst,
		checksum: probe.GetBool(params, "checksum", true),
		dial:     probe.Connect,
	}, nil
}

func (p *Probe) Kind() string { return probe.KindBackupSync }

func (p *Probe) Describe() string {
	desc := fmt.Sprintf("sync %s to %s", p.src, p.dst)
	if !p.checksum {
		desc += " (no checksum)"
	}
	return desc
}

// syncStats counts one target's outcome. Skipped means content already
// matched; bytes counts only what was actually written.
type syncStats struct {
	copied  int
	skipped int
	bytes   int64
}

func (s *syncStats) summary() string {
	if s.copied == 0 && s.skipped > 0 {
		return fmt.Sprintf("in sync, %d file(s) unchanged", s.skipped)
	}
	return fmt.Sprintf("%d file(s) copied, %d skipped, %d byte(s)", s.copied, s.skipped, s.bytes)
}

func (s *syncStats) payload(src, dst string) map[string]any {
	return map[string]any{
		"src":               src,
		"dst":               dst,
		"copied":            s.copied,
		"skipped":           s.skipped,
		"bytes_transferred": s.bytes,
	}
}

// Run synchronizes p.src to p.dst on one target. The source always lives on
// the machine dcadm runs on.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	info, err := os.Stat(p.src)
	if err != nil {
		return probe.Failuref(t, probe.ErrProbe, "cannot read source %s: %v", p.src, err)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return probe.Failuref(t, probe.ErrProbe, "source %s is not a regular file or directory", p.src)
	}

	if t.IsLocal() {
		return p.runLocal(ctx, t, info)
	}
	return p.runRemote(ctx, t, info)
}

func (p *Probe) runLocal(ctx context.Context, t *target.Target, info os.FileInfo) *probe.Result {
	stats := &syncStats{}

	if info.Mode().IsRegular() {
		dst := p.dst
		if di, err := os.Stat(dst); err == nil && di.IsDir() {
			dst = filepath.Join(dst, filepath.Base(p.src))
		}
		if err := p.copyLocalFile(p.src, dst, info, stats); err != nil {
			return probe.Failure(t, probe.ErrProbe, err)
		}
		return probe.Success(t, stats.summary(), stats.payload(p.src, p.dst))
	}

	err := filepath.WalkDir(p.src, func(srcPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(p.src, srcPath)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(p.dst, rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(dstPath, fi.Mode().Perm())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return p.copyLocalFile(srcPath, dstPath, fi, stats)
	})
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrProbe, err)
	}
	return probe.Success(t, stats.summary(), stats.payload(p.src, p.dst))
}

// copyLocalFile copies one file, preserving its mode. Existing destinations
// with matching content are skipped when checksumming is on.
func (p *Probe) copyLocalFile(src, dst string, info os.FileInfo, stats *syncStats) error {
	if p.checksum {
		same, err := sameContent(src, dst, info.Size())
		if err != nil {
			return err
		}
		if same {
			stats.skipped++
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	// OpenFile applies the mode only on creation, so converge it.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}

	stats.copied++
	stats.bytes += n
	return nil
}

// sameContent reports whether dst exists with the same content as src. Size
// is compared first so differing files never get hashed.
func sameContent(src, dst string, srcSize int64) (bool, error) {
	di, err := os.Stat(dst)
	if err != nil || !di.Mode().IsRegular() {
		return false, nil
	}
	if di.Size() != srcSize {
		return false, nil
	}
	srcSum, err := fileDigest(src)
	if err != nil {
		return false, err
	}
	dstSum, err := fileDigest(dst)
	if err != nil {
		return false, err
	}
	return srcSum == dstSum, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Probe) runRemote(ctx context.Context, t *target.Target, info os.FileInfo) *probe.Result {
	conn, err := p.dial(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrConnection, err)
	}
	defer conn.Close()

	stats := &syncStats{}

	if info.Mode().IsRegular() {
		if err := remoteMkdir(ctx, conn, path.Dir(p.dst)); err != nil {
			return p.remoteFailure(ctx, t, err)
		}
		if err := p.pushFile(ctx, conn, p.src, p.dst, info, stats); err != nil {
			return p.remoteFailure(ctx, t, err)
		}
		return probe.Success(t, stats.summary(), stats.payload(p.src, p.dst))
	}

	err = filepath.WalkDir(p.src, func(srcPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(p.src, srcPath)
		if err != nil {
			return err
		}
		dstPath := path.Join(p.dst, filepath.ToSlash(rel))

		if d.IsDir() {
			return remoteMkdir(ctx, conn, dstPath)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return p.pushFile(ctx, conn, srcPath, dstPath, fi, stats)
	})
	if err != nil {
		return p.remoteFailure(ctx, t, err)
	}
	return probe.Success(t, stats.summary(), stats.payload(p.src, p.dst))
}

func (p *Probe) remoteFailure(ctx context.Context, t *target.Target, err error) *probe.Result {
	if ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return probe.Failure(t, probe.ErrProbe, err)
}

// pushFile uploads one file through the connector unless the remote copy
// already matches.
func (p *Probe) pushFile(ctx context.Context, conn connector.Connector, src, dst string, info os.FileInfo, stats *syncStats) error {
	if p.checksum {
		exists, remoteSum, err := remoteDigest(ctx, conn, dst)
		if err != nil {
			return err
		}
		if exists && remoteSum != "" {
			localSum, err := fileDigest(src)
			if err != nil {
				return err
			}
			if localSum == remoteSum {
				stats.skipped++
				return nil
			}
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := conn.Upload(ctx, f, dst, uint32(info.Mode().Perm())); err != nil {
		return fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	stats.copied++
	stats.bytes += info.Size()
	return nil
}

func remoteMkdir(ctx context.Context, conn connector.Connector, dir string) error {
	result, err := conn.Execute(ctx, "mkdir -p "+shellQuote(dir))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("mkdir %s exited %d: %s", dir, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// remoteDigest fetches the sha256 of a remote file. A host without a sha256
// tool reports the file as present with an empty digest, which callers treat
// as different.
func remoteDigest(ctx context.Context, conn connector.Connector, path string) (exists bool, sum string, err error) {
	cmd := fmt.Sprintf(`if [ -f %[1]s ]; then
	if command -v sha256sum >/dev/null 2>&1; then
		sha256sum %[1]s | cut -d' ' -f1
	elif command -v shasum >/dev/null 2>&1; then
		shasum -a 256 %[1]s | cut -d' ' -f1
	else
		echo "NO_SHA"
	fi
else
	echo "NO_FILE"
fi`, shellQuote(path))

	result, err := conn.Execute(ctx, cmd)
	if err != nil {
		return false, "", err
	}

	out := strings.TrimSpace(result.Stdout)
	switch out {
	case "NO_FILE":
		return false, "", nil
	case "NO_SHA":
		return true, "", nil
	}
	return true, out, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
