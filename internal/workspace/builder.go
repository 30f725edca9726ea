// Package workspace manages the on-disk directory layout of tenant stacks:
// one directory per tenant holding the rendered descriptor, a volumes
// subtree, and logs; staging clones nest under the parent with a
// staging-<n> suffix.
package workspace

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

//go:embed templates/varnish/default.vcl
var varnishConfig []byte

const dirMode = 0o750

// Subdirectories created for every stack.
var stackDirs = []string{
	filepath.Join("volumes", "files"),
	filepath.Join("volumes", "db"),
	"logs",
}

type Builder struct {
	root string
}

func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// TenantDir is the workspace path for a tenant.
func (b *Builder) TenantDir(tenantID string) string {
	return filepath.Join(b.root, tenantID)
}

// StagingDir is the workspace path for a tenant's n-th staging clone.
func (b *Builder) StagingDir(tenantID string, seq int) string {
	return filepath.Join(b.root, tenantID, fmt.Sprintf("staging-%d", seq))
}

// Create builds the fixed directory tree at path. It fails closed: when the
// target already exists nothing is created or mutated, and a partial tree
// left by a mid-create failure is removed before returning.
func (b *Builder) Create(path string, platform models.Platform) error {
	if _, err := os.Stat(path); err == nil {
		return appErr.New(appErr.CodeWorkspaceConflict, "workspace already exists: "+path)
	} else if !os.IsNotExist(err) {
		return appErr.Wrap(err, appErr.CodeInternal, "stat workspace failed")
	}

	if err := b.populate(path, platform); err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	logger.L().Info("workspace created", zap.String("path", path), zap.String("platform", string(platform)))
	return nil
}

func (b *Builder) populate(path string, platform models.Platform) error {
	for _, sub := range stackDirs {
		if err := os.MkdirAll(filepath.Join(path, sub), dirMode); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "create workspace dir failed")
		}
	}
	if platform.NeedsEdgeCache() {
		cacheDir := filepath.Join(path, "volumes", "cache")
		if err := os.MkdirAll(cacheDir, dirMode); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "create cache-proxy dir failed")
		}
		if err := os.WriteFile(filepath.Join(cacheDir, "default.vcl"), varnishConfig, 0o640); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "seed cache-proxy config failed")
		}
	}
	return nil
}

// Remove deletes a workspace tree. Rollback depends on this leaving nothing
// behind: a tenant can only be re-provisioned from failed once its workspace
// is fully gone.
func (b *Builder) Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "remove workspace failed")
	}
	return nil
}

// Exists reports whether the workspace path is present.
func (b *Builder) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Backup copies the tree at src into backupDir under a timestamped name and
// returns the backup path. Taken before a staging push overwrites
// production files.
func (b *Builder) Backup(src, backupDir string) (string, error) {
	name := filepath.Base(src) + "-" + time.Now().UTC().Format("20060102T150405Z")
	dst := filepath.Join(backupDir, name)
	if err := os.MkdirAll(backupDir, dirMode); err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "create backup dir failed")
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return "", appErr.Wrap(err, appErr.CodeInternal, "backup copy failed")
	}
	return dst, nil
}
