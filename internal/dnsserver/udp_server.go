package dnsserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Forist2034/local-cdn/internal/dnswire"
	"github.com/Forist2034/local-cdn/internal/pool"
)

const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// DefaultWorkersPerSocket is the default number of worker goroutines per UDP socket.
const DefaultWorkersPerSocket = 1024

var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxIncomingDNSMessageSize)
	return &buf
})

// UDPServer hosts DNS queries over UDP: one SO_REUSEPORT socket per
// CPU core, each with a fixed worker pool and a non-blocking receive
// path that drops packets rather than blocking on busy workers.
type UDPServer struct {
	Logger           *slog.Logger
	Handler          *QueryHandler
	Limiter          *RateLimiter
	WorkersPerSocket int

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

type udpPacket struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run starts the UDP server and blocks until ctx is cancelled.
func (s *UDPServer) Run(ctx context.Context, addr string) error {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	s.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenUDPReusePort(addr)
		if err != nil {
			for _, c := range s.conns {
				_ = c.Close()
			}
			return err
		}
		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)
		s.conns = append(s.conns, conn)

		packetCh := make(chan udpPacket, s.WorkersPerSocket*2)
		c, ch := conn, packetCh

		s.wg.Go(func() { s.recvLoop(ctx, c, ch) })
		for range s.WorkersPerSocket {
			s.wg.Go(func() { s.workerLoop(ctx, c, ch) })
		}
	}

	<-ctx.Done()
	return s.Stop(5 * time.Second)
}

// RunOnConn runs the server on an existing UDP connection; useful when
// the caller wants to manage socket lifetime itself (tests).
func (s *UDPServer) RunOnConn(ctx context.Context, conn *net.UDPConn) {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}
	s.conns = []*net.UDPConn{conn}
	packetCh := make(chan udpPacket, s.WorkersPerSocket)
	c, ch := conn, packetCh

	s.wg.Go(func() { s.recvLoop(ctx, c, ch) })
	for range s.WorkersPerSocket {
		s.wg.Go(func() { s.workerLoop(ctx, c, ch) })
	}
	<-ctx.Done()
}

func (s *UDPServer) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- udpPacket) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			return
		}

		if s.Limiter != nil {
			ip, ok := netipAddrFromUDPAddr(peer)
			if !ok || !s.Limiter.AllowAddr(ip) {
				bufferPool.Put(bufPtr)
				continue
			}
		}

		select {
		case out <- udpPacket{bufPtr, n, peer}:
		default:
			bufferPool.Put(bufPtr)
		}
	}
}

func (s *UDPServer) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan udpPacket) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			s.handlePacket(ctx, conn, p)
		}
	}
}

func (s *UDPServer) handlePacket(ctx context.Context, conn *net.UDPConn, p udpPacket) {
	defer bufferPool.Put(p.bufPtr)

	if s.Handler == nil {
		return
	}

	payload := (*p.bufPtr)[:p.n]
	peerIP := p.peer.IP.String()
	res := s.Handler.Handle(ctx, "udp", peerIP, payload)
	if len(res.ResponseBytes) == 0 {
		return
	}

	resp := res.ResponseBytes
	if res.ParsedOK {
		maxSize := min(dnswire.ClientMaxUDPSize(res.Parsed), dnswire.EDNSMaxUDPPayloadSize)
		resp = truncateUDPResponse(resp, maxSize)
	}

	_, _ = conn.WriteToUDP(resp, p.peer)
}

// Stop closes all sockets and waits up to timeout for goroutines to exit.
func (s *UDPServer) Stop(timeout time.Duration) error {
	for _, c := range s.conns {
		_ = c.Close()
	}
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp server: timeout waiting for goroutines to exit")
	}
}

func netipAddrFromUDPAddr(addr *net.UDPAddr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// listenUDPReusePort creates a UDP socket with SO_REUSEPORT set, so
// multiple sockets can share addr and let the kernel distribute
// incoming packets across them.
func listenUDPReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
