package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	rtsup "meshgate/internal/runtime/supervisor"
	"meshgate/internal/transport"
	logx "meshgate/pkg/logx"
)

type Config struct {
	URL          string
	Token        string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	HelloTimeout time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = time.Minute
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Adapter implements transport.Adapter against a radio bridge daemon.
type Adapter struct {
	cfg Config
	log logx.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	self string
	sup  *rtsup.Supervisor
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "bridge"))}
}

// Start dials in the background and keeps the connection alive until Stop.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	if strings.TrimSpace(a.cfg.URL) == "" {
		return errors.New("bridge url is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup.GoRestart("bridge.conn", func(c context.Context) error {
		return a.connectAndServe(c, out)
	}, rtsup.WithRestartBackoff(a.cfg.ReconnectMin, a.cfg.ReconnectMax))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SelfID returns the connected radio's node id, or "" while disconnected.
func (a *Adapter) SelfID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *Adapter) Send(ctx context.Context, text string, to transport.Target) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	if !to.IsDirect() && !to.IsChannel() {
		return errors.New("send target required")
	}
	f := sendFrame{Type: frameSend, Text: text, DestinationID: to.DestinationID}
	if !to.IsDirect() {
		f.ChannelIndex = to.ChannelIndex
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (a *Adapter) connectAndServe(ctx context.Context, out chan<- transport.Event) error {
	opts := &websocket.DialOptions{Subprotocols: []string{"meshgate-bridge-v1"}}
	if a.cfg.Token != "" {
		opts.HTTPHeader = map[string][]string{"Authorization": {"Bearer " + a.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, a.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}
	conn.SetReadLimit(64 << 10)
	defer conn.Close(websocket.StatusNormalClosure, "gateway shutting down")

	self, err := a.awaitHello(ctx, conn)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.self = self
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.self = ""
		a.mu.Unlock()
	}()

	a.log.Info("connected to radio", logx.String("url", a.cfg.URL), logx.String("self", self))
	if !emit(ctx, out, transport.Event{Kind: transport.EventConnected, SelfID: self}) {
		return context.Canceled
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			a.log.Warn("radio connection lost", logx.Err(err))
			emit(ctx, out, transport.Event{Kind: transport.EventDisconnected, Err: err})
			return fmt.Errorf("read: %w", err)
		}

		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			a.log.Warn("invalid frame from bridge", logx.Err(err))
			continue
		}
		switch f.Type {
		case framePacket:
			if f.Packet == nil {
				a.log.Debug("packet frame without packet")
				continue
			}
			if !emit(ctx, out, transport.Event{Kind: transport.EventPacket, Packet: *f.Packet}) {
				return context.Canceled
			}
		case frameError:
			a.log.Warn("bridge reported error", logx.String("message", f.Message))
		case frameConnected:
			// Re-announce after the radio itself reconnected behind the bridge.
			if f.MyNodeNum != nil {
				self = transport.NodeID(*f.MyNodeNum)
				a.mu.Lock()
				a.self = self
				a.mu.Unlock()
				if !emit(ctx, out, transport.Event{Kind: transport.EventConnected, SelfID: self}) {
					return context.Canceled
				}
			}
		default:
			a.log.Debug("unknown frame from bridge", logx.String("type", f.Type))
		}
	}
}

func (a *Adapter) awaitHello(ctx context.Context, conn *websocket.Conn) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, a.cfg.HelloTimeout)
	defer cancel()

	_, data, err := conn.Read(hctx)
	if err != nil {
		return "", fmt.Errorf("reading hello: %w", err)
	}
	var f inFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parsing hello: %w", err)
	}
	if f.Type != frameConnected || f.MyNodeNum == nil {
		return "", fmt.Errorf("expected connected frame, got %q", f.Type)
	}
	return transport.NodeID(*f.MyNodeNum), nil
}

func emit(ctx context.Context, out chan<- transport.Event, ev transport.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
