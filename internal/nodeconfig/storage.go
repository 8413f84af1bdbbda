// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

var storageLog = logging.Get("nodeconfig-storage")

// SecureWriteFile persists data to filename via a write-to-temp,
// chmod-0600, atomic-rename sequence, so a reader never observes a
// partially written node-configuration document or application key file.
// Both the Configuration Store's JSON document and the bootstrap RSA
// application key pair go through this same path.
func SecureWriteFile(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.KindInternal, "write temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.KindInternal, "close temp file %s", tmpName)
	}

	if err := lockDownPermissions(tmpName); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.KindInternal, "rename %s into place as %s", tmpName, filename)
	}
	storageLog.Debug("wrote secure file", "path", filename, "bytes", len(data))
	return nil
}

// lockDownPermissions restricts filename to owner-only read/write and
// ownership by the running user, before it is ever renamed into its
// final, externally-visible path.
func lockDownPermissions(filename string) error {
	if err := os.Chown(filename, os.Getuid(), os.Getgid()); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "restrict ownership of %s", filename)
	}
	if err := os.Chmod(filename, 0600); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "restrict permissions of %s", filename)
	}
	return nil
}

// SecureReadFile reads filename after verifying it is owned by the running
// user and carries no group/other permission bits, refusing to read a node
// configuration or key file another account could have tampered with.
func SecureReadFile(filename string) ([]byte, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "stat %s", filename)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Getuid() {
			return nil, errors.Errorf(errors.KindPermission, "%s is not owned by the current user", filename)
		}
		if mode := info.Mode(); mode&0077 != 0 {
			return nil, errors.Errorf(errors.KindPermission, "%s has insecure permissions: %s", filename, mode)
		}
	}

	return os.ReadFile(filename)
}
