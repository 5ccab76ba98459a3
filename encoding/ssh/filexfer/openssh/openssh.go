// Package openssh implements the openssh secsh-filexfer extensions as described in
// https://github.com/openssh/openssh-portable/blob/master/PROTOCOL
package openssh
