package eventbus

import (
	"context"
	"sync"
	"time"
)

// Status is the health view folded from runtime events.
type Status struct {
	Connected      bool      `json:"connected"`
	SelfID         string    `json:"self_id,omitempty"`
	LastConnect    time.Time `json:"last_connect,omitempty"`
	LastDisconnect time.Time `json:"last_disconnect,omitempty"`
	LastRadioErr   string    `json:"last_radio_err,omitempty"`
	JobsStarted    []string  `json:"jobs_started,omitempty"`
	JobsSkipped    []string  `json:"jobs_skipped,omitempty"`
	NodesSeen      uint64    `json:"nodes_seen"`
	LastReload     time.Time `json:"last_reload,omitempty"`
	LastReloadErr  string    `json:"last_reload_err,omitempty"`
}

// Tracker keeps the latest Status. Run it against a subscription.
type Tracker struct {
	mu sync.RWMutex
	st Status
}

func NewTracker() *Tracker { return &Tracker{} }

// Run consumes events until ctx is done or ch is closed.
func (t *Tracker) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Apply(e)
		}
	}
}

func (t *Tracker) Apply(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Type {
	case RadioConnected:
		r, _ := e.Data.(Radio)
		t.st.Connected = true
		t.st.SelfID = r.SelfID
		t.st.LastConnect = e.Time
	case RadioDisconnected:
		r, _ := e.Data.(Radio)
		t.st.Connected = false
		t.st.LastDisconnect = e.Time
		t.st.LastRadioErr = r.Err
	case JobsStarted:
		j, _ := e.Data.(Jobs)
		t.st.JobsStarted = append([]string(nil), j.Started...)
		t.st.JobsSkipped = append([]string(nil), j.Skipped...)
	case NodeSeen:
		t.st.NodesSeen++
	case ConfigReloaded:
		t.st.LastReload = e.Time
		t.st.LastReloadErr = ""
	case ConfigRejected:
		r, _ := e.Data.(Reload)
		t.st.LastReloadErr = r.Err
	}
}

func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.st
	st.JobsStarted = append([]string(nil), t.st.JobsStarted...)
	st.JobsSkipped = append([]string(nil), t.st.JobsSkipped...)
	return st
}
