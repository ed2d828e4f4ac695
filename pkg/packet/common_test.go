package packet_test

import (
	"testing"
	"unsafe"

	"rtnet/pkg/packet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func asBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func scmTimestamping(sw, hw int64) []byte {
	scm := unix.ScmTimestamping{}
	if sw != 0 {
		scm.Ts[0] = unix.NsecToTimespec(sw)
	}
	if hw != 0 {
		scm.Ts[2] = unix.NsecToTimespec(hw)
	}
	return append([]byte(nil), asBytes(&scm)...)
}

func extendedErr(origin uint8, tstype, id uint32) []byte {
	serr := unix.SockExtendedErr{
		Errno:  uint32(unix.ENOMSG),
		Origin: origin,
		Info:   tstype,
		Data:   id,
	}
	return append([]byte(nil), asBytes(&serr)...)
}

// notification builds the control data the kernel delivers for one error queue entry
func notification(sw, hw int64, tstype, id uint32) []byte {
	buf := packet.AppendControl(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, scmTimestamping(sw, hw))
	return packet.AppendControl(buf, unix.SOL_IP, unix.IP_RECVERR, extendedErr(4, tstype, id))
}

func TestDecodeRxTimestamps(t *testing.T) {
	buf := packet.AppendControl(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, scmTimestamping(1_700_000_000_123456789, 1_700_000_000_123450000))

	rx, err := packet.DecodeRxTimestamps(buf)
	require.NoError(t, err)
	assert.Equal(t, packet.Timestamp(1_700_000_000_123456789), rx.Software)
	assert.Equal(t, packet.Timestamp(1_700_000_000_123450000), rx.Hardware)
}

func TestDecodeRxTimestampsSkipsOtherMessages(t *testing.T) {
	buf := packet.AppendControl(nil, unix.SOL_IP, unix.IP_TTL, []byte{64, 0, 0, 0})
	buf = packet.AppendControl(buf, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, scmTimestamping(42, 0))

	rx, err := packet.DecodeRxTimestamps(buf)
	require.NoError(t, err)
	assert.Equal(t, packet.RxTimestamps{Software: 42}, rx)
}

func TestDecodeRxTimestampsMissing(t *testing.T) {
	_, err := packet.DecodeRxTimestamps(nil)
	assert.ErrorIs(t, err, packet.ErrTimestampNotFound)

	buf := packet.AppendControl(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, []byte{1, 2, 3})
	_, err = packet.DecodeRxTimestamps(buf)
	assert.ErrorIs(t, err, packet.ErrScmTimestampingNotEnoughData)
}

func TestDecodeNotificationKinds(t *testing.T) {
	cases := []struct {
		name   string
		sw, hw int64
		tstype uint32
		want   packet.Notification
	}{
		{"sched", 1000, 0, 1, packet.Notification{ID: 7, Kind: packet.Scheduled, Ts: 1000}},
		{"software", 2000, 0, 0, packet.Notification{ID: 7, Kind: packet.Software, Ts: 2000}},
		{"hardware", 0, 3000, 0, packet.Notification{ID: 7, Kind: packet.Hardware, Ts: 3000}},
		// the hw-only entry is identified by the missing sw slot, not by tstype
		{"hardware-any-tstype", 0, 4000, 1, packet.Notification{ID: 7, Kind: packet.Hardware, Ts: 4000}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n, err := packet.DecodeNotification(notification(c.sw, c.hw, c.tstype, 7))
			require.NoError(t, err)
			assert.Equal(t, c.want, n)
		})
	}
}

func TestDecodeNotificationIPv6(t *testing.T) {
	buf := packet.AppendControl(nil, unix.SOL_IPV6, unix.IPV6_RECVERR, extendedErr(4, 0, 99))
	buf = packet.AppendControl(buf, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, scmTimestamping(5, 0))

	n, err := packet.DecodeNotification(buf)
	require.NoError(t, err)
	assert.Equal(t, packet.Notification{ID: 99, Kind: packet.Software, Ts: 5}, n)
}

func TestDecodeNotificationErrors(t *testing.T) {
	_, err := packet.DecodeNotification(nil)
	assert.ErrorIs(t, err, packet.ErrTimestampNotFound)

	onlyTs := packet.AppendControl(nil, unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, scmTimestamping(5, 0))
	_, err = packet.DecodeNotification(onlyTs)
	assert.ErrorIs(t, err, packet.ErrNotATimestamp)

	// ICMP origin: a genuine error, not a timestamp
	icmp := packet.AppendControl(nil, unix.SOL_IP, unix.IP_RECVERR, extendedErr(2, 0, 0))
	_, err = packet.DecodeNotification(icmp)
	assert.ErrorIs(t, err, packet.ErrNotATimestamp)

	short := packet.AppendControl(onlyTs, unix.SOL_IP, unix.IP_RECVERR, []byte{1, 2})
	_, err = packet.DecodeNotification(short)
	assert.ErrorIs(t, err, packet.ErrExtendedErrNotEnoughData)

	_, err = packet.DecodeNotification(notification(5, 0, 2, 1))
	assert.ErrorIs(t, err, packet.ErrUnknownTimestampKind)
}
