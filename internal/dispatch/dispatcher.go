package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"meshgate/internal/observability"
	"meshgate/internal/transport"
	logx "meshgate/pkg/logx"
)

// Addressing selects which packets count as commands.
type Addressing string

const (
	// AddressDirect accepts packets sent to the gateway's own id.
	AddressDirect Addressing = "direct"
	// AddressChannel0 accepts anything heard on the primary channel.
	AddressChannel0 Addressing = "channel0"
)

func ParseAddressing(s string) (Addressing, error) {
	switch Addressing(strings.ToLower(strings.TrimSpace(s))) {
	case "", AddressDirect:
		return AddressDirect, nil
	case AddressChannel0:
		return AddressChannel0, nil
	default:
		return "", fmt.Errorf("unknown addressing %q (want direct or channel0)", s)
	}
}

const DefaultHandlerTimeout = 15 * time.Second

type Config struct {
	Addressing     Addressing
	HandlerTimeout time.Duration
}

// Outcome is what Handle did with one packet.
type Outcome string

const (
	OutcomeDropped      Outcome = "dropped"
	OutcomeEmpty        Outcome = "empty"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeNoReply      Outcome = "no_reply"
	OutcomeReplied      Outcome = "replied"
	OutcomeFailed       Outcome = "failed"
)

type Dispatcher struct {
	cfg     Config
	table   atomic.Pointer[Table]
	sender  transport.Sender
	log     logx.Logger
	metrics *observability.Metrics
}

func NewDispatcher(cfg Config, table *Table, sender transport.Sender, log logx.Logger, m *observability.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addressing == "" {
		cfg.Addressing = AddressDirect
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	d := &Dispatcher{cfg: cfg, sender: sender, log: log, metrics: m}
	d.table.Store(table)
	return d
}

// SetTable swaps the command table. Packets already being handled finish
// against the table they started with.
func (d *Dispatcher) SetTable(t *Table) { d.table.Store(t) }

func (d *Dispatcher) Table() *Table { return d.table.Load() }

// Run handles packets until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transport.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case ib, ok := <-in:
			if !ok {
				return
			}
			d.Handle(ctx, ib.Packet, ib.SelfID)
		}
	}
}

// Handle runs one packet through gate, normalize, resolve and reply. It
// never panics and never returns an error; failures are logged.
func (d *Dispatcher) Handle(ctx context.Context, pkt transport.Packet, self string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panicked", logx.String("from", pkt.FromID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = OutcomeFailed
		}
		d.metrics.Packet(string(out))
	}()

	if !d.accepts(pkt, self) {
		d.log.Debug("packet not addressed to gateway", logx.String("from", pkt.FromID), logx.String("to", pkt.ToID), logx.Int("channel", pkt.Channel))
		return OutcomeDropped
	}

	text := pkt.Decoded.Text
	if strings.TrimSpace(text) == "" {
		return OutcomeEmpty
	}

	cmd := Normalize(text)
	c, ok := d.table.Load().Lookup(cmd)
	if !ok {
		d.log.Debug("unrecognized command, ignoring", logx.String("from", pkt.FromID), logx.String("cmd", cmd))
		return OutcomeUnrecognized
	}

	hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	reply, ok, err := c.resolve(hctx)
	if err != nil {
		d.log.Warn("command failed", logx.String("from", pkt.FromID), logx.String("cmd", cmd), logx.String("handler", c.Handler), logx.Err(err))
		return OutcomeFailed
	}
	if !ok || reply == "" {
		d.log.Debug("command produced no reply", logx.String("from", pkt.FromID), logx.String("cmd", cmd))
		return OutcomeNoReply
	}

	d.log.Info("command received", logx.String("from", pkt.FromID), logx.String("cmd", cmd))
	if err := d.sender.Send(hctx, reply, transport.Direct(pkt.FromID)); err != nil {
		d.log.Warn("reply failed", logx.String("to", pkt.FromID), logx.Err(err))
		return OutcomeFailed
	}
	d.log.Info("reply sent", logx.String("to", pkt.FromID), logx.String("reply", reply))
	return OutcomeReplied
}

func (d *Dispatcher) accepts(pkt transport.Packet, self string) bool {
	if self == "" || pkt.FromID == "" || pkt.FromID == self {
		return false
	}
	switch d.cfg.Addressing {
	case AddressChannel0:
		return pkt.Channel == 0
	default:
		return pkt.ToID == self
	}
}
