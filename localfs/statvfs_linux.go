//go:build linux
// +build linux

package localfs

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/sshtools/sftp"
	"github.com/sshtools/sftp/encoding/ssh/filexfer/openssh"
)

// StatVFS implements the statvfs@openssh.com extension from the statfs syscall.
// The method only exists on linux; elsewhere the Handler does not satisfy
// sftp.StatVFSHandler and the server leaves the extension unadvertised.
func (h *Handler) StatVFS(_ context.Context, req *openssh.StatVFSExtendedPacket) (*openssh.StatVFSExtendedReplyPacket, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(req.Path, &st); err != nil {
		return nil, err
	}

	var flags uint64
	if st.Flags&unix.ST_RDONLY != 0 {
		flags |= openssh.MountFlagsReadOnly
	}
	if st.Flags&unix.ST_NOSUID != 0 {
		flags |= openssh.MountFlagsNoSUID
	}

	return &openssh.StatVFSExtendedReplyPacket{
		BlockSize:     uint64(st.Bsize),
		FragmentSize:  uint64(st.Frsize),
		Blocks:        st.Blocks,
		BlocksFree:    st.Bfree,
		BlocksAvail:   st.Bavail,
		Files:         st.Files,
		FilesFree:     st.Ffree,
		FilesAvail:    st.Ffree,
		FilesystemID:  uint64(uint32(st.Fsid.Val[0]))<<32 | uint64(uint32(st.Fsid.Val[1])),
		MountFlags:    flags,
		MaxNameLength: uint64(st.Namelen),
	}, nil
}

var _ sftp.StatVFSHandler = (*Handler)(nil)
