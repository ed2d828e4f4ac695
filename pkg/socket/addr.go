package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func Addr(x *net.UDPAddr) unix.Sockaddr {
	res := &unix.SockaddrInet4{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To4())
	return res
}

// ResolvePeer resolves host:port into an IPv4 socket address.
func ResolvePeer(host string, port int) (unix.Sockaddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve addr: %w", err)
	}
	return Addr(addr), nil
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}
