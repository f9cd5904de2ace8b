// Package invert maps result volumes from the population average space back
// onto the individual specimens through an external registration tool.
package invert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"phenostats/internal/models"
	"phenostats/pkg/volumeio"
)

// Inverter maps a volume using the transforms named by an inversion config.
type Inverter interface {
	Invert(ctx context.Context, vol *models.Volume, configPath string) (*models.Volume, error)
}

// ExecInverter runs an external command as
//
//	<Command> <Args...> <configPath> <input.nrrd> <output.nrrd>
//
// exchanging volumes through Store.
type ExecInverter struct {
	Command string
	Args    []string
	Timeout time.Duration
	Store   volumeio.Store
	TempDir string
	Log     *slog.Logger
}

// Available reports whether the command can be found.
func (e *ExecInverter) Available() error {
	if _, err := exec.LookPath(e.Command); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInversionFailed, err)
	}
	return nil
}

// Invert implements Inverter.
func (e *ExecInverter) Invert(ctx context.Context, vol *models.Volume, configPath string) (*models.Volume, error) {
	if err := e.Available(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(e.TempDir, "invert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange directory: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.nrrd")
	out := filepath.Join(dir, "output.nrrd")
	if err := e.Store.Save(vol, in); err != nil {
		return nil, err
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	args := append(append([]string{}, e.Args...), configPath, in, out)
	output, err := exec.CommandContext(ctx, e.Command, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", models.ErrInversionFailed, e.Command, err, strings.TrimSpace(string(output)))
	}

	inverted, err := e.Store.Load(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInversionFailed, err)
	}
	if e.Log != nil {
		e.Log.Debug("inverted volume", "config", configPath, "shape", inverted.Shape().String())
	}
	return inverted, nil
}

// Files inverts each volume file into dstDir, keeping its base name. It stops
// at the first failure and returns the paths written so far.
func Files(ctx context.Context, inv Inverter, store volumeio.Store, configPath, dstDir string, paths []string) ([]string, error) {
	var written []string
	for _, src := range paths {
		vol, err := store.Load(src)
		if err != nil {
			return written, err
		}
		out, err := inv.Invert(ctx, vol, configPath)
		if err != nil {
			return written, fmt.Errorf("inverting %s: %w", filepath.Base(src), err)
		}
		dst := filepath.Join(dstDir, filepath.Base(src))
		if err := store.Save(out, dst); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}
