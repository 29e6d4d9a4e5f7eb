// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state changes. The zero value uses daemon.SdNotify.
type Notifier struct {
	send func(state string) (bool, error)
}

// NewNotifier routes every state through send instead of the notify socket.
func NewNotifier(send func(state string) (bool, error)) Notifier { return Notifier{send: send} }

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(state)
	}
	return daemon.SdNotify(false, state)
}

// Ready reports READY=1 and whether a notify socket was present.
func (n Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func (n Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n Notifier) Status(s string) (bool, error) { return n.notify("STATUS=" + s) }

// Watchdog pings WATCHDOG=1 at half the configured WatchdogSec until ctx is
// done. It returns immediately when the unit has no watchdog.
func (n Notifier) Watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	return n.ping(ctx, every/2)
}

func (n Notifier) ping(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
