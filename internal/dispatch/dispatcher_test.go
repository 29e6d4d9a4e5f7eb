package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshgate/internal/transport"
	logx "meshgate/pkg/logx"
)

const self = "!12345678"

type sent struct {
	text string
	to   transport.Target
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recorder) Send(ctx context.Context, text string, to transport.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sent{text: text, to: to})
	return nil
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func dm(from, text string) transport.Packet {
	return transport.Packet{
		FromID:  from,
		ToID:    self,
		Decoded: transport.Decoded{Portnum: transport.PortText, Text: text},
	}
}

func newTestDispatcher(t *testing.T, cfg Config, raw map[string]string, handlers map[string]HandlerFunc) (*Dispatcher, *recorder) {
	t.Helper()
	table, err := NewTable(raw, handlers)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	rec := &recorder{}
	return NewDispatcher(cfg, table, rec, logx.Nop(), nil), rec
}

func TestPingIsAnsweredCaseInsensitively(t *testing.T) {
	t.Parallel()

	d, rec := newTestDispatcher(t, Config{}, map[string]string{".ping": "pong!"}, nil)

	if got := d.Handle(context.Background(), dm("!a1b2c3d4", "  .PING "), self); got != OutcomeReplied {
		t.Fatalf("outcome = %v", got)
	}
	msgs := rec.all()
	if len(msgs) != 1 || msgs[0].text != "pong!" || msgs[0].to.DestinationID != "!a1b2c3d4" || msgs[0].to.IsChannel() {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestSelfOriginatedNeverAnswered(t *testing.T) {
	t.Parallel()

	for _, addr := range []Addressing{AddressDirect, AddressChannel0} {
		d, rec := newTestDispatcher(t, Config{Addressing: addr}, map[string]string{".ping": "pong!"}, nil)
		pkt := dm(self, ".ping")
		if got := d.Handle(context.Background(), pkt, self); got != OutcomeDropped {
			t.Fatalf("%s: outcome = %v", addr, got)
		}
		if n := len(rec.all()); n != 0 {
			t.Fatalf("%s: sent %d replies to self", addr, n)
		}
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		addr Addressing
		pkt  transport.Packet
		self string
		want Outcome
	}{
		{"broadcast in direct mode", AddressDirect, transport.Packet{FromID: "!a", ToID: "^all", Decoded: transport.Decoded{Text: ".ping"}}, self, OutcomeDropped},
		{"dm to someone else", AddressDirect, transport.Packet{FromID: "!a", ToID: "!ffffffff", Decoded: transport.Decoded{Text: ".ping"}}, self, OutcomeDropped},
		{"not yet connected", AddressDirect, dm("!a", ".ping"), "", OutcomeDropped},
		{"channel0 broadcast", AddressChannel0, transport.Packet{FromID: "!a", ToID: "^all", Channel: 0, Decoded: transport.Decoded{Text: ".ping"}}, self, OutcomeReplied},
		{"channel1 broadcast", AddressChannel0, transport.Packet{FromID: "!a", ToID: "^all", Channel: 1, Decoded: transport.Decoded{Text: ".ping"}}, self, OutcomeDropped},
		{"empty text", AddressDirect, dm("!a", "   "), self, OutcomeEmpty},
	}
	for _, tc := range cases {
		d, _ := newTestDispatcher(t, Config{Addressing: tc.addr}, map[string]string{".ping": "pong!"}, nil)
		if got := d.Handle(context.Background(), tc.pkt, tc.self); got != tc.want {
			t.Fatalf("%s: outcome = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUnrecognizedTextIsSilent(t *testing.T) {
	t.Parallel()

	d, rec := newTestDispatcher(t, Config{}, map[string]string{".ping": "pong!"}, nil)
	if got := d.Handle(context.Background(), dm("!a1b2c3d4", "hello there"), self); got != OutcomeUnrecognized {
		t.Fatalf("outcome = %v", got)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("sent %d replies to unrecognized text", n)
	}
}

func TestHandlerResults(t *testing.T) {
	t.Parallel()

	handlers := map[string]HandlerFunc{
		"get_seen_nodes": func(context.Context) (string, bool, error) { return "Most recently seen node:\nAlpha / A / c3d4", true, nil },
		"quiet":          func(context.Context) (string, bool, error) { return "", false, nil },
		"broken":         func(context.Context) (string, bool, error) { return "", false, errors.New("ha down") },
		"explodes":       func(context.Context) (string, bool, error) { panic("bad handler") },
	}
	raw := map[string]string{
		".seen":  "get_seen_nodes",
		".quiet": "quiet",
		".wx":    "broken",
		".boom":  "explodes",
		".lit":   "not_a_handler",
	}
	d, rec := newTestDispatcher(t, Config{}, raw, handlers)

	cases := map[string]Outcome{
		".seen":  OutcomeReplied,
		".quiet": OutcomeNoReply,
		".wx":    OutcomeFailed,
		".boom":  OutcomeFailed,
		".lit":   OutcomeReplied,
	}
	for text, want := range cases {
		if got := d.Handle(context.Background(), dm("!a1b2c3d4", text), self); got != want {
			t.Fatalf("%s: outcome = %v, want %v", text, got, want)
		}
	}

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("sent = %+v", msgs)
	}
	texts := map[string]bool{msgs[0].text: true, msgs[1].text: true}
	if !texts["not_a_handler"] || !texts["Most recently seen node:\nAlpha / A / c3d4"] {
		t.Fatalf("replies = %+v", msgs)
	}
}

func TestHandlerGetsTimeout(t *testing.T) {
	t.Parallel()

	handlers := map[string]HandlerFunc{
		"slow": func(ctx context.Context) (string, bool, error) {
			<-ctx.Done()
			return "", false, ctx.Err()
		},
	}
	d, _ := newTestDispatcher(t, Config{HandlerTimeout: 20 * time.Millisecond}, map[string]string{".slow": "slow"}, handlers)
	if got := d.Handle(context.Background(), dm("!a", ".slow"), self); got != OutcomeFailed {
		t.Fatalf("outcome = %v", got)
	}
}

func TestSendFailureIsContained(t *testing.T) {
	t.Parallel()

	d, rec := newTestDispatcher(t, Config{}, map[string]string{".ping": "pong!"}, nil)
	rec.err = transport.ErrNotConnected
	if got := d.Handle(context.Background(), dm("!a", ".ping"), self); got != OutcomeFailed {
		t.Fatalf("outcome = %v", got)
	}
}

func TestRunSurvivesBadMessagesAndSwapsTable(t *testing.T) {
	t.Parallel()

	handlers := map[string]HandlerFunc{"explodes": func(context.Context) (string, bool, error) { panic("x") }}
	d, rec := newTestDispatcher(t, Config{}, map[string]string{".boom": "explodes", ".ping": "pong!"}, handlers)

	in := make(chan transport.Inbound, 4)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), in)
		close(done)
	}()

	in <- transport.Inbound{Packet: dm("!a", ".boom"), SelfID: self}
	in <- transport.Inbound{Packet: dm("!a", ".ping"), SelfID: self}

	next, err := NewTable(map[string]string{".ping": "PONG v2"}, nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first reply never sent")
		}
		time.Sleep(time.Millisecond)
	}
	d.SetTable(next)
	in <- transport.Inbound{Packet: dm("!a", ".ping"), SelfID: self}
	close(in)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after input closed")
	}
	msgs := rec.all()
	if len(msgs) != 2 || msgs[0].text != "pong!" || msgs[1].text != "PONG v2" {
		t.Fatalf("sent = %+v", msgs)
	}
}
