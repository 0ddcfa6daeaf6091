//go:build !unix

package workspace

import "io/fs"

// ownerID is unavailable off unix; the snapshot carries an empty owner.
func ownerID(fs.FileInfo) string {
	return ""
}
