package staging

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Dump and restore cross the container boundary through the compose CLI.
// The timeout is generous because it scales with database size.
const cloneTimeout = 30 * time.Minute

const dbService = "db"

// cloneDatabase dumps the database of the stack in srcDir and restores it
// into the stack in dstDir. The dump is spooled to a file in the destination
// logs directory rather than held in memory.
func (o *Orchestrator) cloneDatabase(ctx context.Context, t *models.Tenant, srcDir, dstDir string) error {
	dumpFile, err := os.CreateTemp(filepath.Join(dstDir, "logs"), "clone-*.sql")
	if err != nil {
		return appErr.Wrap(err, appErr.CodeDatabaseCloneFailure, "create dump file failed")
	}
	dumpPath := dumpFile.Name()
	defer os.Remove(dumpPath)

	_, err = o.stacks.Exec(ctx, srcDir, dbService, cloneTimeout, nil, dumpFile,
		"mysqldump",
		"--single-transaction",
		"--quick",
		"-u", t.DBUser,
		"-p"+t.DBPassword,
		t.DBName,
	)
	if closeErr := dumpFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return appErr.Wrap(err, appErr.CodeDatabaseCloneFailure, "database dump failed")
	}

	in, err := os.Open(dumpPath)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeDatabaseCloneFailure, "open dump file failed")
	}
	defer in.Close()

	if _, err := o.stacks.Exec(ctx, dstDir, dbService, cloneTimeout, in, nil,
		"mysql",
		"-u", t.DBUser,
		"-p"+t.DBPassword,
		t.DBName,
	); err != nil {
		return appErr.Wrap(err, appErr.CodeDatabaseCloneFailure, "database restore failed")
	}

	logger.L().Info("database cloned",
		zap.String("tenant_id", t.ID.String()),
		zap.String("from", srcDir),
		zap.String("to", dstDir),
	)
	return nil
}

// rewriteDomains replaces absolute-URL references to fromDomain with
// toDomain inside the database of the stack in workspaceDir. Each platform
// keeps its canonical URLs in different tables.
func (o *Orchestrator) rewriteDomains(ctx context.Context, t *models.Tenant, workspaceDir, fromDomain, toDomain string) error {
	for _, stmt := range rewriteStatements(t.Platform) {
		sql := stmt(fromDomain, toDomain)
		if _, err := o.stacks.Exec(ctx, workspaceDir, dbService, cloneTimeout, nil, nil,
			"mysql",
			"-u", t.DBUser,
			"-p"+t.DBPassword,
			t.DBName,
			"-e", sql,
		); err != nil {
			return appErr.Wrap(err, appErr.CodeDatabaseCloneFailure, "domain rewrite failed")
		}
	}
	return nil
}

type rewriteStmt func(from, to string) string

func rewriteStatements(p models.Platform) []rewriteStmt {
	switch p {
	case models.PlatformWooCommerce:
		return []rewriteStmt{
			func(from, to string) string {
				return "UPDATE wp_options SET option_value = REPLACE(option_value, '" + from + "', '" + to + "') WHERE option_name IN ('siteurl', 'home');"
			},
			func(from, to string) string {
				return "UPDATE wp_posts SET guid = REPLACE(guid, '" + from + "', '" + to + "'), post_content = REPLACE(post_content, '" + from + "', '" + to + "');"
			},
		}
	case models.PlatformMagento:
		return []rewriteStmt{
			func(from, to string) string {
				return "UPDATE core_config_data SET value = REPLACE(value, '" + from + "', '" + to + "') WHERE path IN ('web/unsecure/base_url', 'web/secure/base_url');"
			},
		}
	default:
		return nil
	}
}
