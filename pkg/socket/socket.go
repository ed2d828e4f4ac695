package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"rtnet/pkg/packet"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	ethtoolSuggestion = " - use 'ethtool -T <INTERFACE>' to check which timestamping modes your network interface supports"

	udpIPv4Overhead = 28
)

var (
	ErrWouldBlock = errors.New("operation would block")
	ErrPacketSize = errors.New("packet size does not fit the interface MTU")
)

// Options are applied in order by New; any failure is reported and the fd closed.
type Options struct {
	Interface  string // bind to this device when not empty
	Port       int
	Peer       unix.Sockaddr // destination for Send
	PacketSize int

	HardwareTimestamps bool // program the adapter with SIOCSHWTSTAMP
	TxTimestamps       bool // request sched/sw/hw transmit timestamps on the error queue

	Priority    int           // SO_PRIORITY when > 0
	TxTime      bool          // enable SO_TXTIME scheduled transmission
	TxTimeClock int32         // clock the txtime values refer to
	ReadTimeout time.Duration // SO_RCVTIMEO when > 0
	NonBlocking bool          // reads return ErrWouldBlock instead of waiting

	Log logrus.FieldLogger
}

// Socket owns one UDP descriptor with kernel timestamping enabled.
type Socket struct {
	fd     int
	peer   unix.Sockaddr
	txtime bool
	log    logrus.FieldLogger

	// Send/Receive run on the role goroutine, ReadNotification on the correlator
	// goroutine: each path keeps its own buffers.
	txCtl  []byte
	rxCtl  []byte
	errBuf []byte
	errCtl []byte
}

func New(o Options) (_ *Socket, err error) {
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	if o.Interface != "" {
		if err := checkInterface(o.Interface, o.PacketSize, log); err != nil {
			return nil, err
		}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return nil, fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
	}

	localAddr := &unix.SockaddrInet4{Port: o.Port}
	if err = unix.Bind(fd, localAddr); err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}

	if o.Interface != "" {
		if err = unix.BindToDevice(fd, o.Interface); err != nil {
			return nil, fmt.Errorf("setsockopt SO_BINDTODEVICE %s: %w", o.Interface, err)
		}
	}

	if o.Interface != "" {
		if err = queryTimestamping(fd, o.Interface, o.HardwareTimestamps, log); err != nil {
			return nil, err
		}
	}

	if o.HardwareTimestamps {
		if err = EnableHardwareTimestamping(fd, o.Interface, log); err != nil {
			return nil, err
		}
	}

	if err = EnableTimestamping(fd, o.TxTimestamps); err != nil {
		return nil, err
	}

	if o.Priority > 0 {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, o.Priority); err != nil {
			return nil, fmt.Errorf("setsockopt SO_PRIORITY: %w", err)
		}
	}

	if o.TxTime {
		if err = enableTxTime(fd, o.TxTimeClock); err != nil {
			return nil, err
		}
	}

	if o.ReadTimeout > 0 {
		tv := unix.NsecToTimeval(o.ReadTimeout.Nanoseconds())
		if err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return nil, fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
		}
	}

	if o.NonBlocking {
		if err = unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
	}

	log.Debugf("socket bound to %s (iface=%q, hw=%v, tx=%v, txtime=%v)",
		AddrToString(localAddr), o.Interface, o.HardwareTimestamps, o.TxTimestamps, o.TxTime)

	return &Socket{
		fd:     fd,
		peer:   o.Peer,
		txtime: o.TxTime,
		log:    log,
		txCtl:  make([]byte, 0, unix.CmsgSpace(8)),
		rxCtl:  make([]byte, packet.CtlBufSize),
		errBuf: make([]byte, 1),
		errCtl: make([]byte, packet.CtlBufSize),
	}, nil
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

func checkInterface(name string, packetSize int, log logrus.FieldLogger) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("netlink.LinkByName %s: %w", name, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		log.Warnf("interface %s is administratively down (oper state %s)", name, attrs.OperState)
	}
	if attrs.MTU > 0 && packetSize+udpIPv4Overhead > attrs.MTU {
		return fmt.Errorf("%w: %d + %d > %d on %s", ErrPacketSize, packetSize, udpIPv4Overhead, attrs.MTU, name)
	}
	log.Debugf("interface %s index %d mtu %d", name, attrs.Index, attrs.MTU)
	return nil
}

// EnableHardwareTimestamping asks the adapter to stamp every transmitted packet
// and all received packets.
func EnableHardwareTimestamping(fd int, ifname string, log logrus.FieldLogger) error {
	if ifname == "" {
		return errors.New("hardware timestamping needs an interface name")
	}
	cfg := &unix.HwTstampConfig{
		Tx_type:   unix.HWTSTAMP_TX_ON,
		Rx_filter: unix.HWTSTAMP_FILTER_ALL,
	}
	if err := unix.IoctlSetHwTstamp(fd, ifname, cfg); err != nil {
		return fmt.Errorf("ioctl SIOCSHWTSTAMP %s: %w%s", ifname, err, ethtoolSuggestion)
	}
	if cur, err := unix.IoctlGetHwTstamp(fd, ifname); err == nil {
		log.Debugf("hw timestamping on %s: tx_type=%d rx_filter=%d", ifname, cur.Tx_type, cur.Rx_filter)
	}
	return nil
}

// EnableTimestamping turns on receive timestamps and, when tx is set, transmit
// timestamps reported on the error queue tagged with a per-datagram id
// starting at 0.
func EnableTimestamping(fd int, tx bool) error {
	flags := unix.SOF_TIMESTAMPING_RX_HARDWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE
	if tx {
		flags |= unix.SOF_TIMESTAMPING_TX_HARDWARE |
			unix.SOF_TIMESTAMPING_TX_SOFTWARE |
			unix.SOF_TIMESTAMPING_TX_SCHED |
			unix.SOF_TIMESTAMPING_OPT_ID |
			unix.SOF_TIMESTAMPING_OPT_TSONLY |
			unix.SOF_TIMESTAMPING_OPT_PKTINFO |
			unix.SOF_TIMESTAMPING_OPT_TX_SWHW
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags); err != nil {
		return fmt.Errorf("setsockopt SO_TIMESTAMPING: %w%s", err, ethtoolSuggestion)
	}
	if tx {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_RECVERR, 1); err != nil {
			return fmt.Errorf("setsockopt IP_RECVERR: %w", err)
		}
	}
	return nil
}

func enableTxTime(fd int, clock int32) error {
	// struct sock_txtime { clockid_t clockid; __u32 flags; }
	var cfg [8]byte
	binary.NativeEndian.PutUint32(cfg[0:], uint32(clock))
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_TXTIME, string(cfg[:])); err != nil {
		return fmt.Errorf("setsockopt SO_TXTIME: %w", err)
	}
	return nil
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
