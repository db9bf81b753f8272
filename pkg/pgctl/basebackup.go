package pgctl

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const passfileName = ".pgpass-pgha"

// BackupSource is where a replica copies its data directory from.
type BackupSource struct {
	Host     string
	Port     int
	User     string
	Password string
}

// BaseBackup streams a copy of the source into the (absent) data directory and
// leaves it configured as a standby. The password is handed over through a
// short-lived passfile next to the data directory.
func (e *Engine) BaseBackup(ctx context.Context, src BackupSource) (err error) {
	passfile := filepath.Join(filepath.Dir(e.cfg.DataDir), passfileName)
	line := fmt.Sprintf("%s:%d:*:%s:%s\n",
		passfileEscape(src.Host), src.Port, passfileEscape(src.User), passfileEscape(src.Password))

	if err := e.host.WriteFile(ctx, passfile, []byte(line)); err != nil {
		return fmt.Errorf("writing passfile: %w", err)
	}
	defer func() {
		if rmErr := e.host.RemoveAll(context.WithoutCancel(ctx), passfile); rmErr != nil && err == nil {
			err = fmt.Errorf("removing passfile: %w", rmErr)
		}
	}()
	if _, err := e.host.Run(ctx, "chown", e.cfg.OSUser, passfile); err != nil {
		return fmt.Errorf("chown passfile: %w", err)
	}

	_, err = e.host.Run(ctx, e.asOSUser("env", "PGPASSFILE="+passfile,
		e.bin("pg_basebackup"),
		"-h", src.Host,
		"-p", strconv.Itoa(src.Port),
		"-U", src.User,
		"-D", e.cfg.DataDir,
		"-X", "stream",
		"-R",
		"-w",
	)...)
	if err != nil {
		return fmt.Errorf("pg_basebackup from %s: %w", src.Host, err)
	}
	return nil
}

func passfileEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `:`, `\:`).Replace(s)
}
