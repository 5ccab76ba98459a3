package filexfer

import (
	"errors"
)

// ErrUnknownAttrFlags is returned when an attribute block carries flag bits
// outside the set defined by draft-ietf-secsh-filexfer-02.
// The layout of the fields gated by such bits is unknowable,
// so nothing after the flags word can be decoded.
var ErrUnknownAttrFlags = errors.New("unknown attribute flags")

// Attributes related flags.
const (
	AttrSize        = 1 << iota // SSH_FILEXFER_ATTR_SIZE
	AttrUIDGID                  // SSH_FILEXFER_ATTR_UIDGID
	AttrPermissions             // SSH_FILEXFER_ATTR_PERMISSIONS
	AttrACModTime               // SSH_FILEXFER_ACMODTIME

	AttrExtended = 1 << 31 // SSH_FILEXFER_ATTR_EXTENDED
)

// attrKnownFlags is the set of flag bits defined by draft-ietf-secsh-filexfer-02.
const attrKnownFlags = AttrSize | AttrUIDGID | AttrPermissions | AttrACModTime | AttrExtended

// The S_IFMT values encoded into the Permissions field.
// These are the POSIX mode bits, which the draft-02 ATTRS permissions field carries verbatim.
const (
	ModeType        = 0xF000 // S_IFMT
	ModeNamedPipe   = 0x1000 // S_IFIFO
	ModeCharDevice  = 0x2000 // S_IFCHR
	ModeDir         = 0x4000 // S_IFDIR
	ModeBlockDevice = 0x6000 // S_IFBLK
	ModeRegular     = 0x8000 // S_IFREG
	ModeSymlink     = 0xA000 // S_IFLNK
	ModeSocket      = 0xC000 // S_IFSOCK
)

// FileType describes the kind of filesystem object an Attributes value refers to.
// It is derived from the S_IFMT bits of the Permissions field; it is never transmitted on its own.
type FileType uint8

// The derived file types.
const (
	FileTypeUnknown = FileType(iota)
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
	FileTypeSpecial
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Attributes defines the file attributes type defined in draft-ietf-secsh-filexfer-02
//
// Defined in: https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-5
type Attributes struct {
	Flags uint32

	// AttrSize
	Size uint64

	// AttrUIDGID
	UID uint32
	GID uint32

	// AttrPermissions
	Permissions uint32

	// AttrACModTime
	ATime uint32
	MTime uint32

	// AttrExtended
	ExtendedAttributes []ExtendedAttribute
}

// HasSize reports whether the Size field is populated.
func (a *Attributes) HasSize() bool { return a.Flags&AttrSize != 0 }

// HasUIDGID reports whether the UID and GID fields are populated.
func (a *Attributes) HasUIDGID() bool { return a.Flags&AttrUIDGID != 0 }

// HasPermissions reports whether the Permissions field is populated.
func (a *Attributes) HasPermissions() bool { return a.Flags&AttrPermissions != 0 }

// HasACModTime reports whether the ATime and MTime fields are populated.
func (a *Attributes) HasACModTime() bool { return a.Flags&AttrACModTime != 0 }

// SetSize sets the Size field, and marks it present.
func (a *Attributes) SetSize(size uint64) {
	a.Flags |= AttrSize
	a.Size = size
}

// SetUIDGID sets the UID and GID fields, and marks them present.
func (a *Attributes) SetUIDGID(uid, gid uint32) {
	a.Flags |= AttrUIDGID
	a.UID = uid
	a.GID = gid
}

// SetPermissions sets the Permissions field, and marks it present.
func (a *Attributes) SetPermissions(perms uint32) {
	a.Flags |= AttrPermissions
	a.Permissions = perms
}

// SetACModTime sets the ATime and MTime fields, and marks them present.
func (a *Attributes) SetACModTime(atime, mtime uint32) {
	a.Flags |= AttrACModTime
	a.ATime = atime
	a.MTime = mtime
}

// SetExtendedAttributes sets the ExtendedAttributes field, and marks it present.
func (a *Attributes) SetExtendedAttributes(exts []ExtendedAttribute) {
	a.Flags |= AttrExtended
	a.ExtendedAttributes = exts
}

// FileType returns the file type derived from the S_IFMT bits of the Permissions field.
// If permissions are not populated, or the type bits do not name a known type, it returns FileTypeUnknown.
func (a *Attributes) FileType() FileType {
	if !a.HasPermissions() {
		return FileTypeUnknown
	}

	switch a.Permissions & ModeType {
	case ModeRegular:
		return FileTypeRegular
	case ModeDir:
		return FileTypeDirectory
	case ModeSymlink:
		return FileTypeSymlink
	case ModeNamedPipe, ModeCharDevice, ModeBlockDevice, ModeSocket:
		return FileTypeSpecial
	default:
		return FileTypeUnknown
	}
}

// IsDir reports whether the Attributes describe a directory.
func (a *Attributes) IsDir() bool { return a.FileType() == FileTypeDirectory }

// IsRegular reports whether the Attributes describe a regular file.
func (a *Attributes) IsRegular() bool { return a.FileType() == FileTypeRegular }

// Len returns the number of bytes a would marshal into.
func (a *Attributes) Len() int {
	length := 4

	if a.Flags&AttrSize != 0 {
		length += 8
	}

	if a.Flags&AttrUIDGID != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrPermissions != 0 {
		length += 4
	}

	if a.Flags&AttrACModTime != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrExtended != 0 {
		length += 4

		for _, ext := range a.ExtendedAttributes {
			length += ext.Len()
		}
	}

	return length
}

// MarshalInto marshals a onto the end of the given Buffer.
func (a *Attributes) MarshalInto(b *Buffer) {
	b.AppendUint32(a.Flags)

	if a.Flags&AttrSize != 0 {
		b.AppendUint64(a.Size)
	}

	if a.Flags&AttrUIDGID != 0 {
		b.AppendUint32(a.UID)
		b.AppendUint32(a.GID)
	}

	if a.Flags&AttrPermissions != 0 {
		b.AppendUint32(a.Permissions)
	}

	if a.Flags&AttrACModTime != 0 {
		b.AppendUint32(a.ATime)
		b.AppendUint32(a.MTime)
	}

	if a.Flags&AttrExtended != 0 {
		b.AppendUint32(uint32(len(a.ExtendedAttributes)))

		for _, ext := range a.ExtendedAttributes {
			ext.MarshalInto(b)
		}
	}
}

// MarshalBinary returns a as the binary encoding of a.
func (a *Attributes) MarshalBinary() ([]byte, error) {
	buf := NewBuffer(make([]byte, 0, a.Len()))
	a.MarshalInto(buf)
	return buf.Bytes(), nil
}

// UnmarshalFrom unmarshals an Attributes from the given Buffer into a.
//
// Flag bits outside the set defined by draft-ietf-secsh-filexfer-02 cause an error:
// without knowing their layout the remainder of the block cannot be decoded.
//
// NOTE: The values of fields not covered by a.Flags are explicitly undefined.
func (a *Attributes) UnmarshalFrom(b *Buffer) (err error) {
	if a.Flags, err = b.ConsumeUint32(); err != nil {
		return err
	}

	if a.Flags&^uint32(attrKnownFlags) != 0 {
		return ErrUnknownAttrFlags
	}

	// Short-circuit dummy attributes.
	if a.Flags == 0 {
		return nil
	}

	if a.Flags&AttrSize != 0 {
		if a.Size, err = b.ConsumeUint64(); err != nil {
			return err
		}
	}

	if a.Flags&AttrUIDGID != 0 {
		if a.UID, err = b.ConsumeUint32(); err != nil {
			return err
		}

		if a.GID, err = b.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrPermissions != 0 {
		if a.Permissions, err = b.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrACModTime != 0 {
		if a.ATime, err = b.ConsumeUint32(); err != nil {
			return err
		}

		if a.MTime, err = b.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrExtended != 0 {
		count, err := b.ConsumeUint32()
		if err != nil {
			return err
		}

		a.ExtendedAttributes = make([]ExtendedAttribute, count)
		for i := range a.ExtendedAttributes {
			if err := a.ExtendedAttributes[i].UnmarshalFrom(b); err != nil {
				return err
			}
		}
	}

	return nil
}

// UnmarshalBinary decodes the binary encoding of Attributes into a.
func (a *Attributes) UnmarshalBinary(data []byte) error {
	return a.UnmarshalFrom(NewBuffer(data))
}

// ExtendedAttribute defines the extended file attribute type defined in draft-ietf-secsh-filexfer-02
//
// Defined in: https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-5
type ExtendedAttribute struct {
	Type string
	Data string
}

// Len returns the number of bytes e would marshal into.
func (e *ExtendedAttribute) Len() int {
	return 4 + len(e.Type) + 4 + len(e.Data)
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *ExtendedAttribute) MarshalInto(b *Buffer) {
	b.AppendString(e.Type)
	b.AppendString(e.Data)
}

// MarshalBinary returns e as the binary encoding of e.
func (e *ExtendedAttribute) MarshalBinary() ([]byte, error) {
	buf := NewBuffer(make([]byte, 0, e.Len()))
	e.MarshalInto(buf)
	return buf.Bytes(), nil
}

// UnmarshalFrom unmarshals an ExtendedAttribute from the given Buffer into e.
func (e *ExtendedAttribute) UnmarshalFrom(b *Buffer) (err error) {
	if e.Type, err = b.ConsumeString(); err != nil {
		return err
	}

	if e.Data, err = b.ConsumeString(); err != nil {
		return err
	}

	return nil
}

// UnmarshalBinary decodes the binary encoding of ExtendedAttribute into e.
func (e *ExtendedAttribute) UnmarshalBinary(data []byte) error {
	return e.UnmarshalFrom(NewBuffer(data))
}

// NameEntry implements the SSH_FXP_NAME repeated data type from draft-ietf-secsh-filexfer-02
//
// This type is incompatible with versions 4 or higher.
type NameEntry struct {
	Filename string
	Longname string
	Attrs    Attributes
}

// Len returns the number of bytes e would marshal into.
func (e *NameEntry) Len() int {
	return 4 + len(e.Filename) + 4 + len(e.Longname) + e.Attrs.Len()
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *NameEntry) MarshalInto(b *Buffer) {
	b.AppendString(e.Filename)
	b.AppendString(e.Longname)

	e.Attrs.MarshalInto(b)
}

// MarshalBinary returns e as the binary encoding of e.
func (e *NameEntry) MarshalBinary() ([]byte, error) {
	buf := NewBuffer(make([]byte, 0, e.Len()))
	e.MarshalInto(buf)
	return buf.Bytes(), nil
}

// UnmarshalFrom unmarshals a NameEntry from the given Buffer into e.
// Filenames are required to be UTF-8.
func (e *NameEntry) UnmarshalFrom(b *Buffer) (err error) {
	if e.Filename, err = b.ConsumeUTF8String(); err != nil {
		return err
	}

	if e.Longname, err = b.ConsumeUTF8String(); err != nil {
		return err
	}

	return e.Attrs.UnmarshalFrom(b)
}

// UnmarshalBinary decodes the binary encoding of NameEntry into e.
func (e *NameEntry) UnmarshalBinary(data []byte) error {
	return e.UnmarshalFrom(NewBuffer(data))
}
