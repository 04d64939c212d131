package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "anomalyd/pkg/logx"
)

// sdNotify reports state to the service manager. Outside systemd
// (no NOTIFY_SOCKET) it does nothing.
func sdNotify(log logx.Logger, state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
	return sent
}

// sdWatchdog pings the systemd watchdog at half its interval until ctx ends
// or done is closed. It returns at once when WatchdogSec is not set.
func sdWatchdog(ctx context.Context, done <-chan struct{}, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
