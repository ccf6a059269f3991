package ingest

import (
	"net"
	"time"
)

// Acceptor is a listening socket whose Accept can be bounded by a deadline.
// This abstraction enables unit testing without real network sockets.
type Acceptor interface {
	Accept() (net.Conn, error)
	SetDeadline(t time.Time) error
	Close() error
	Addr() net.Addr
}

// ListenerFactory creates listening sockets.
type ListenerFactory interface {
	Listen(network, address string) (Acceptor, error)
}

// TCPListenerFactory implements ListenerFactory using net.ListenTCP.
type TCPListenerFactory struct{}

// Listen binds a TCP socket on address.
func (TCPListenerFactory) Listen(network, address string) (Acceptor, error) {
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP(network, addr)
	if err != nil {
		return nil, err
	}
	return ln, nil
}
