//go:build unix

package server

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/fyrelog"
)

// dropPrivileges permanently drops root to the "nobody" user, once
// the listener is already bound, matching release_privileges' "bind
// first, then give up privilege" ordering. It's a no-op if the
// process isn't running as root.
func dropPrivileges(log fyrelog.Logger) error {
	if os.Geteuid() != 0 {
		return nil
	}

	if log != nil {
		log.Log(fyrelog.Info, "server: running as root, dropping all privileges")
	}

	nobody, err := user.Lookup("nobody")
	if err != nil {
		return errors.Wrap(err, "server: can't find the 'nobody' user, refusing to run as root")
	}
	uid, err := strconv.Atoi(nobody.Uid)
	if err != nil {
		return errors.Wrap(err, "server: parse nobody uid")
	}
	if err := syscall.Setuid(uid); err != nil {
		return errors.Wrap(err, "server: setuid")
	}
	return nil
}
