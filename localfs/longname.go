package localfs

import (
	"fmt"
	"os"
	"time"
)

// unixTime converts a protocol timestamp into a time.Time.
func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0)
}

// longname renders the ls -l style line recommended for the longname field by
// draft-ietf-secsh-filexfer-02 section 7:
//
//	-rwxr-xr-x   1 mjos     staff      348911 Mar 25 14:29 t-filexfer
//
// Clients are told not to parse it, so the ownership columns are best-effort.
func longname(fi os.FileInfo) string {
	var user, group string

	uid, gid, ok := fileOwner(fi)
	if ok {
		user = lookupUser(uid)
		group = lookupGroup(gid)
	} else {
		user, group = "nobody", "nobody"
	}

	return fmt.Sprintf("%s %3d %-8s %-8s %8d %s %s",
		fi.Mode().String(),
		linkCount(fi),
		user,
		group,
		fi.Size(),
		lsTime(fi.ModTime()),
		fi.Name(),
	)
}

// lsTime formats a timestamp the way ls -l does: recent files show the clock
// time, files older than six months (or in the future) show the year.
func lsTime(t time.Time) string {
	sixMonths := 182 * 24 * time.Hour

	if age := time.Since(t); age > sixMonths || age < -sixMonths {
		return t.Format("Jan _2  2006")
	}

	return t.Format("Jan _2 15:04")
}
