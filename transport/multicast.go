package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/jathurchan/mcastlock/logger"
	"golang.org/x/net/ipv4"
)

// MulticastNetwork implements Network over UDP/IPv4 multicast.
//
// The listener binds the group port (with address reuse so several peers can share
// a host) and joins the group. The lock and join channels are ephemeral unicast
// sockets; their broadcasts go to the group and the unicast replies come back to them.
// Renewing one of them binds a new ephemeral port, so replies addressed to the old
// port are refused by the kernel.
type MulticastNetwork struct {
	mu     sync.Mutex
	cfg    Config
	logger logger.Logger

	group *net.UDPAddr
	iface *net.Interface

	conns   map[Role]*channel
	epochs  map[Role]uint64
	inbound chan Datagram
	done    chan struct{}
	wg      sync.WaitGroup
	open    bool
}

// channel pairs a socket with its ipv4 control wrapper.
type channel struct {
	raw   net.PacketConn
	p     *ipv4.PacketConn
	epoch uint64
}

// NewMulticastNetwork validates cfg and returns a closed network.
func NewMulticastNetwork(cfg Config, log logger.Logger) (*MulticastNetwork, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %q: %v", ErrConfigValidation, cfg.Interface, err)
		}
	}

	return &MulticastNetwork{
		cfg:     cfg,
		logger:  log.WithComponent("transport"),
		group:   cfg.GroupAddr(),
		iface:   iface,
		conns:   make(map[Role]*channel, len(Roles)),
		epochs:  make(map[Role]uint64, len(Roles)),
		inbound: make(chan Datagram, cfg.InboundQueueSize),
	}, nil
}

// Open creates all three channels and starts one reader per channel.
// On failure every channel opened so far is closed again.
func (n *MulticastNetwork) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.open {
		return nil
	}

	conns := make(map[Role]*channel, len(Roles))
	closeAll := func() {
		for _, c := range conns {
			_ = c.p.Close()
		}
	}

	listener, err := n.openListener(ctx)
	if err != nil {
		return err
	}
	conns[RoleListener] = listener

	for _, role := range []Role{RoleLock, RoleJoin} {
		c, err := n.openSender(ctx, role)
		if err != nil {
			closeAll()
			return err
		}
		c.epoch = n.epochs[role]
		conns[role] = c
	}

	n.conns = conns
	n.done = make(chan struct{})
	n.open = true

	for role, c := range conns {
		n.wg.Add(1)
		go n.readLoop(role, c, n.done)
	}

	n.logger.Infow("Multicast channels open",
		"group", n.group.String(),
		"ttl", n.cfg.TTL,
		"loopback", n.cfg.Loopback,
		"max_datagram", humanize.IBytes(uint64(n.cfg.ReadBufferSize)),
		"lock_addr", conns[RoleLock].raw.LocalAddr().String(),
		"join_addr", conns[RoleJoin].raw.LocalAddr().String())
	return nil
}

func (n *MulticastNetwork) openListener(ctx context.Context) (*channel, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(n.cfg.Port))
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	p := ipv4.NewPacketConn(pc)
	if err := p.JoinGroup(n.iface, &net.UDPAddr{IP: n.group.IP}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("join group %s: %w", n.group.IP, err)
	}
	if err := n.configureMulticast(p); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
		n.logger.Debugw("Destination control messages unavailable", "error", err)
	}
	return &channel{raw: pc, p: p}, nil
}

func (n *MulticastNetwork) openSender(ctx context.Context, role Role) (*channel, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open %s channel: %w", role, err)
	}
	p := ipv4.NewPacketConn(pc)
	if err := n.configureMulticast(p); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("configure %s channel: %w", role, err)
	}
	return &channel{raw: pc, p: p}, nil
}

func (n *MulticastNetwork) configureMulticast(p *ipv4.PacketConn) error {
	if err := p.SetMulticastTTL(n.cfg.TTL); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := p.SetMulticastLoopback(n.cfg.Loopback); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	if n.iface != nil {
		if err := p.SetMulticastInterface(n.iface); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return nil
}

func (n *MulticastNetwork) readLoop(role Role, c *channel, done <-chan struct{}) {
	defer n.wg.Done()

	buf := make([]byte, n.cfg.ReadBufferSize)
	for {
		size, cm, src, err := c.p.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-done:
				return
			default:
			}
			n.logger.Warnw("Read failed", "channel", role.String(), "error", err)
			continue
		}
		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		copy(payload, buf[:size])
		if cm != nil {
			n.logger.Debugw("Datagram received", "channel", role.String(), "from", src, "dst", cm.Dst, "bytes", size)
		}

		select {
		case n.inbound <- Datagram{Role: role, Epoch: c.epoch, Payload: payload, Source: src}:
		case <-done:
			return
		}
	}
}

// Inbound implements Network.
func (n *MulticastNetwork) Inbound() <-chan Datagram {
	return n.inbound
}

// Broadcast implements Network.
func (n *MulticastNetwork) Broadcast(role Role, payload []byte) error {
	return n.write(role, n.group, payload)
}

// SendTo implements Network.
func (n *MulticastNetwork) SendTo(role Role, addr net.Addr, payload []byte) error {
	if _, ok := addr.(*net.UDPAddr); !ok {
		return fmt.Errorf("%w: %T", ErrAddressType, addr)
	}
	return n.write(role, addr, payload)
}

func (n *MulticastNetwork) write(role Role, dst net.Addr, payload []byte) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
	if len(payload) > n.cfg.ReadBufferSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrDatagramTooLarge, len(payload), n.cfg.ReadBufferSize)
	}

	n.mu.Lock()
	c, open := n.conns[role], n.open
	n.mu.Unlock()
	if !open || c == nil {
		return ErrNotOpen
	}

	if _, err := c.p.WriteTo(payload, nil, dst); err != nil {
		return fmt.Errorf("write to %s on %s channel: %w", dst, role, err)
	}
	return nil
}

// LocalAddr implements Network.
func (n *MulticastNetwork) LocalAddr(role Role) net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[role]; ok && n.open {
		return c.raw.LocalAddr()
	}
	return nil
}

// Renew implements Network. The replacement socket is bound before the old one
// closes; the old reader exits once its socket is closed.
func (n *MulticastNetwork) Renew(role Role) (uint64, error) {
	if !role.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
	if role == RoleListener {
		return 0, fmt.Errorf("%w: %s", ErrNotRenewable, role)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return 0, ErrNotOpen
	}

	c, err := n.openSender(context.Background(), role)
	if err != nil {
		return 0, err
	}
	old := n.conns[role]
	n.epochs[role]++
	c.epoch = n.epochs[role]
	n.conns[role] = c

	if old != nil {
		if err := old.p.Close(); err != nil {
			n.logger.Debugw("Close renewed channel failed", "channel", role.String(), "error", err)
		}
	}
	n.wg.Add(1)
	go n.readLoop(role, c, n.done)

	n.logger.Debugw("Channel renewed",
		"channel", role.String(),
		"epoch", c.epoch,
		"addr", c.raw.LocalAddr().String())
	return c.epoch, nil
}

// Close implements Network. The listener leaves the group before its socket closes.
func (n *MulticastNetwork) Close() error {
	n.mu.Lock()
	if !n.open {
		n.mu.Unlock()
		return nil
	}
	n.open = false
	close(n.done)

	var errs []error
	if l, ok := n.conns[RoleListener]; ok {
		if err := l.p.LeaveGroup(n.iface, &net.UDPAddr{IP: n.group.IP}); err != nil {
			n.logger.Debugw("Leave group failed", "error", err)
		}
	}
	for role, c := range n.conns {
		if err := c.p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s channel: %w", role, err))
		}
	}
	n.conns = make(map[Role]*channel, len(Roles))
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Infow("Multicast channels closed")
	return errors.Join(errs...)
}
