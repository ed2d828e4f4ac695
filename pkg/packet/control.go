package packet

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// AppendControl appends one socket control message carrying data to buf.
func AppendControl(buf []byte, level, typ int32, data []byte) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, unix.CmsgSpace(len(data)))...)
	h := (*unix.Cmsghdr)(unsafe.Pointer(&buf[start]))
	h.Level = level
	h.Type = typ
	h.SetLen(unix.CmsgLen(len(data)))
	copy(buf[start+unix.CmsgLen(0):], data)
	return buf
}
