//go:build !unix

package server

import "github.com/davidt/fyre/fyrelog"

// dropPrivileges is a no-op on non-Unix targets, matching
// release_privileges' #else branch (HAVE_FORK undefined).
func dropPrivileges(log fyrelog.Logger) error {
	return nil
}
