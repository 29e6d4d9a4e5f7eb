package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"meshgate/internal/actions"
	"meshgate/internal/config"
	"meshgate/internal/transport"
	"meshgate/pkg/systemd"
)

const self = "!0000abcd"

type sent struct {
	text string
	to   transport.Target
}

type fakeRadio struct {
	mu      sync.Mutex
	out     chan<- transport.Event
	stopped bool
	notify  chan sent
}

func newFakeRadio() *fakeRadio { return &fakeRadio{notify: make(chan sent, 16)} }

func (r *fakeRadio) Start(_ context.Context, out chan<- transport.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
	return nil
}

func (r *fakeRadio) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *fakeRadio) Send(_ context.Context, text string, to transport.Target) error {
	r.notify <- sent{text, to}
	return nil
}

func (r *fakeRadio) emit(ev transport.Event) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	out <- ev
}

func (r *fakeRadio) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-r.notify:
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a send")
		return sent{}
	}
}

type states struct {
	mu  sync.Mutex
	got []string
}

func (s *states) notifier() systemd.Notifier {
	return systemd.NewNotifier(func(st string) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.got = append(s.got, st)
		return true, nil
	})
}

func (s *states) has(want string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.got {
		if st == want {
			return true
		}
	}
	return false
}

func writeConfig(t *testing.T, dir, workers string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "radio": {"url": "ws://127.0.0.1:1/unused"},
  "save_node_db": true,
  "storage": {"driver": "sqlite", "path": %q},
  "logging": {"level": "error"},
  "scheduler": {"timezone": "UTC", "grace": "1s"},
  "bot": {
    "active": true,
    "commands": {"ping": "pong!", "nodes": "get_seen_nodes"}
  },
  "workers": [%s]
}`, filepath.Join(dir, "nodes.db"), workers)
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const beaconWorker = `{"type": "beacon", "cron": "* * * * *", "dispatch": "get_beacon_worker", "text": "meshgate online", "channel_index": 0}`

func dm(from, text string) transport.Event {
	return transport.Event{Kind: transport.EventPacket, Packet: transport.Packet{
		FromID: from, ToID: self,
		Decoded: transport.Decoded{Portnum: transport.PortText, Text: text},
	}}
}

func nodeInfo(from, short, long string) transport.Event {
	return transport.Event{Kind: transport.EventPacket, Packet: transport.Packet{
		FromID: from, ToID: "^all",
		Decoded: transport.Decoded{Portnum: transport.PortNodeInfo, User: &transport.User{ID: from, ShortName: short, LongName: long}},
	}}
}

func TestRuntimeEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	radio := newFakeRadio()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 30, 0, time.UTC))
	var sd states

	a, err := New(writeConfig(t, dir, beaconWorker), WithAdapter(radio), WithClock(clk), WithNotifier(sd.notifier()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, StopAppStop)
		if !sd.has("STOPPING=1") {
			t.Errorf("systemd STOPPING not sent")
		}
		radio.mu.Lock()
		defer radio.mu.Unlock()
		if !radio.stopped {
			t.Errorf("radio not stopped")
		}
	}()

	radio.emit(transport.Event{Kind: transport.EventConnected, SelfID: self})

	waitCtx, waitCancel := context.WithTimeout(ctx, 3*time.Second)
	defer waitCancel()
	if err := clk.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("beacon timer never armed: %v", err)
	}
	clk.Advance(30 * time.Second)
	if got := radio.next(t); got.text != "meshgate online" || !got.to.IsChannel() || *got.to.ChannelIndex != 0 {
		t.Fatalf("beacon = %+v", got)
	}
	if !sd.has("READY=1") {
		t.Fatalf("systemd READY not sent after connect")
	}
	if a.SelfID() != self {
		t.Fatalf("SelfID = %q", a.SelfID())
	}

	radio.emit(nodeInfo("!a1b2c3d4", "AB", "Alpha Bravo"))
	radio.emit(dm("!a1b2c3d4", "  NODES "))
	got := radio.next(t)
	if got.text != "Most recently seen node:\nAlpha Bravo / AB / c3d4" || got.to.DestinationID != "!a1b2c3d4" {
		t.Fatalf("reply = %+v", got)
	}

	// Own packets are never answered; the next reply must be the ping.
	radio.emit(transport.Event{Kind: transport.EventPacket, Packet: transport.Packet{
		FromID: self, ToID: self, Decoded: transport.Decoded{Portnum: transport.PortText, Text: "ping"},
	}})
	radio.emit(dm("!11112222", "ping"))
	if got := radio.next(t); got.text != "pong!" || got.to.DestinationID != "!11112222" {
		t.Fatalf("reply = %+v", got)
	}

	st := a.status.Snapshot()
	deadline := time.Now().Add(2 * time.Second)
	for st.NodesSeen == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		st = a.status.Snapshot()
	}
	if !st.Connected || st.SelfID != self || st.NodesSeen != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestNewFailsFastOnUnknownDispatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := `{"type": "lottery", "cron": "@hourly", "dispatch": "get_lottery_numbers"}`
	_, err := New(writeConfig(t, dir, bad), WithAdapter(newFakeRadio()))
	if !errors.Is(err, actions.ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
}

func TestNewFailsFastOnMalformedCron(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := `{"type": "beacon", "cron": "every tuesday", "dispatch": "get_beacon_worker", "text": "x", "channel_index": 0}`
	if _, err := New(writeConfig(t, dir, bad), WithAdapter(newFakeRadio())); err == nil {
		t.Fatalf("malformed cron accepted")
	}
}

func TestInactiveWorkerNeedsNoUpstream(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	forecast := `{"type": "forecast", "active": false, "cron": "0 7 * * *", "dispatch": "get_weather_forecast_worker", "channel_index": 2}`
	a, err := New(writeConfig(t, dir, forecast), WithAdapter(newFakeRadio()))
	if err != nil {
		t.Fatalf("New with inactive forecast worker: %v", err)
	}
	closeStore(a.store)

	active := strings.Replace(forecast, `"active": false`, `"active": true`, 1)
	if _, err := New(writeConfig(t, t.TempDir(), active), WithAdapter(newFakeRadio())); err == nil {
		t.Fatalf("active forecast worker accepted without a forecast url")
	}
}

func TestReloadKeepsPreviousOnInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, ""), WithAdapter(newFakeRadio()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeStore(a.store)

	bad := *a.cfgm.Get()
	bad.Workers = []config.Worker{{Type: "x", Active: true, Cron: "@hourly", Dispatch: "get_nothing"}}
	if err := a.validate(context.Background(), &bad); err == nil {
		t.Fatalf("invalid reload accepted")
	}
	if _, ok := a.disp.Table().Lookup("ping"); !ok {
		t.Fatalf("previous table lost")
	}

	sched := a.sched
	good := *a.cfgm.Get()
	good.Bot.Commands = map[string]string{"hello": "hi there"}
	good.Bot.Active = false
	if err := a.apply(context.Background(), a.cfgm.Get(), &good); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if a.sched != sched {
		t.Fatalf("reload replaced the scheduler; draining jobs would go untracked")
	}
	if _, ok := a.disp.Table().Lookup("ping"); ok {
		t.Fatalf("old trigger still present")
	}
	if c, ok := a.disp.Table().Lookup("hello"); !ok || c.Reply != "hi there" {
		t.Fatalf("new trigger missing: %+v", c)
	}
	if a.botActive.Load() {
		t.Fatalf("bot.active not applied")
	}
}

func TestInactiveBotStillRecordsPresence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, ""), WithAdapter(newFakeRadio()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeStore(a.store)
	a.botActive.Store(false)
	a.self.Store(self)

	a.handleEvent(context.Background(), nodeInfo("!deadbeef", "DB", "Dead Beef"))
	a.handleEvent(context.Background(), dm("!deadbeef", "ping"))

	if n := len(a.inbound); n != 0 {
		t.Fatalf("inbound = %d, want 0 while bot inactive", n)
	}
	rec, ok, err := a.store.Get(context.Background(), "beef")
	if err != nil || !ok || rec.LongName != "Dead Beef" {
		t.Fatalf("Get = %+v, %v, %v", rec, ok, err)
	}
}

func TestInactiveJobsAreSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inactive := strings.Replace(beaconWorker, `"type": "beacon"`, `"type": "beacon", "active": false`, 1)
	a, err := New(writeConfig(t, dir, inactive), WithAdapter(newFakeRadio()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeStore(a.store)

	a.handleEvent(context.Background(), transport.Event{Kind: transport.EventConnected, SelfID: self})
	if a.sched.Running("get_beacon_worker#0") {
		t.Fatalf("inactive job was started")
	}
}

func TestPresenceDisabledAnswersInactive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeConfig(t, dir, "")
	b, _ := os.ReadFile(p)
	if err := os.WriteFile(p, []byte(strings.Replace(string(b), `"save_node_db": true`, `"save_node_db": false`, 1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := New(p, WithAdapter(newFakeRadio()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.store != nil {
		t.Fatalf("store opened with save_node_db=false")
	}
	c, ok := a.disp.Table().Lookup("nodes")
	if !ok || !c.IsHandler() {
		t.Fatalf("nodes command = %+v", c)
	}
	reply, ok, err := a.registry.Handlers()[actions.CmdSeenNodes](context.Background())
	if err != nil || !ok || reply != "Command inactive." {
		t.Fatalf("reply = %q, %v, %v", reply, ok, err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     config.Config
		enabled bool
		path    string
	}{
		{"disabled", config.Config{}, false, ""},
		{"defaults", config.Config{SaveNodeDB: true}, true, "./nodes.db"},
		{"none", config.Config{SaveNodeDB: true, Storage: config.StorageConfig{Driver: "none"}}, false, ""},
		{"explicit", config.Config{SaveNodeDB: true, Storage: config.StorageConfig{Driver: "SQLite", Path: "/var/lib/meshgate/nodes.db"}}, true, "/var/lib/meshgate/nodes.db"},
	}
	for _, tc := range cases {
		sc, enabled, err := mapStorageConfig(&tc.cfg)
		if err != nil || enabled != tc.enabled || sc.Path != tc.path {
			t.Fatalf("%s: got %+v, %v, %v", tc.name, sc, enabled, err)
		}
	}
}
