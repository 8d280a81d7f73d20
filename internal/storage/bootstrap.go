package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"

	"github.com/Sachibara/Pyrewall/internal/credential"
)

// installMarkerFile is the marker whose absence in the persistence root
// signals a first run, per spec.md §6's "Install marker" glossary entry.
const installMarkerFile = ".install_complete"

// defaultUsername and defaultPassword are the credentials the install
// bootstrap seeds when users.db has no accounts, per spec.md §4.1.
const (
	defaultUsername = "admin"
	defaultPassword = "password"
)

// dbFileNames lists every canonical database file, used to recognize and
// relocate stray top-level copies left over by an older layout.
var dbFileNames = []string{firewallDBFile, usersDBFile, historyDBFile, logsDBFile}

// Bootstrap performs Pyrewall's first-run install sequence against root,
// grounded on spec.md §4.1: relocate any stray top-level database files into
// a timestamped backup folder, open (creating) the four canonical
// databases, seed a default admin account if users.db is empty, and write a
// marker file carrying the one-time plaintext credentials. A root that
// already carries the marker is left untouched; Bootstrap is safe to call
// on every startup.
//
// now is injected so the backup folder name is deterministic in tests; at
// the call site it is time.Now.
func Bootstrap(ctx context.Context, root string, now func() time.Time) (st *Store, err error) {
	defer func() { err = errors.Annotate(err, "bootstrapping store at %q: %w", root) }()

	markerPath := filepath.Join(root, installMarkerFile)

	if _, statErr := os.Stat(markerPath); statErr == nil {
		st, err = Open(root)

		return st, err
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("checking install marker: %w", statErr)
	}

	if err = relocateStrayDatabases(root, now()); err != nil {
		return nil, err
	}

	if st, err = Open(root); err != nil {
		return nil, err
	}

	if err = seedDefaultAdmin(ctx, st.Users); err != nil {
		_ = st.Close()

		return nil, err
	}

	if err = os.WriteFile(markerPath, []byte(defaultUsername+"/"+defaultPassword+"\n"), 0o600); err != nil {
		_ = st.Close()

		return nil, fmt.Errorf("writing install marker: %w", err)
	}

	log.Info("storage: first-run bootstrap complete at %q", root)

	return st, nil
}

// relocateStrayDatabases moves any of the four canonical database files
// found directly under root into root/backup-<timestamp>/, so a fresh
// bootstrap never silently adopts an older, unmigrated layout's files.
func relocateStrayDatabases(root string, at time.Time) error {
	var found []string

	for _, name := range dbFileNames {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			found = append(found, name)
		}
	}

	if len(found) == 0 {
		return nil
	}

	backupDir := filepath.Join(root, "backup-"+at.UTC().Format("20060102-150405"))
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	for _, name := range found {
		src := filepath.Join(root, name)
		dst := filepath.Join(backupDir, name)

		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("relocating %q: %w", name, err)
		}
	}

	log.Info("storage: relocated %d stray database file(s) to %q", len(found), backupDir)

	return nil
}

// seedDefaultAdmin creates the default admin/password account if users.db
// has no accounts at all.
func seedDefaultAdmin(ctx context.Context, users *UserStore) error {
	exists, err := users.AnyUserExists(ctx)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	hash, err := credential.Hash(defaultPassword)
	if err != nil {
		return fmt.Errorf("hashing default credentials: %w", err)
	}

	if err = users.CreateUser(ctx, User{
		Username: defaultUsername,
		Password: hash,
		Role:     RoleAdmin,
	}); err != nil {
		return fmt.Errorf("creating default admin: %w", err)
	}

	return nil
}

// ConsumeInstallMarker deletes the install marker file, per spec.md §6's
// "deleted on first successful login". Absence of the marker is not an
// error: it means an earlier call already consumed it.
func ConsumeInstallMarker(root string) error {
	err := os.Remove(filepath.Join(root, installMarkerFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing install marker: %w", err)
	}

	return nil
}
