// Package sftp implements both sides of the SSH File Transfer Protocol version 3
// as described in https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt
//
// The package does not speak SSH itself: both Client and Server are bound to an
// externally supplied duplex byte stream, typically an SSH "sftp" subsystem
// channel, and exchange SFTP packets on it.
package sftp

// sftpProtocolVersion is the only protocol version this package speaks.
const sftpProtocolVersion = 3

// maxHandleLength bounds server-chosen handle strings,
// per draft-ietf-secsh-filexfer-02 section 6.2.
const maxHandleLength = 256

// defaultMaxDataLength bounds the data strings within a single SSH_FXP_READ or
// SSH_FXP_WRITE when the server does not advertise limits@openssh.com.
// OpenSSH guarantees support for at least this much.
const defaultMaxDataLength = 32768
