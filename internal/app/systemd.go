package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "quizbot/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
var sdNotify = daemon.SdNotify

func notifyState(log logx.Logger, state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func notifyReady(log logx.Logger, jobs int) {
	notifyState(log, daemon.SdNotifyReady+"\n"+fmt.Sprintf("STATUS=running, %d quiz schedule(s)", jobs))
}

func notifyStopping(log logx.Logger) {
	notifyState(log, daemon.SdNotifyStopping)
}

// watchdog pings systemd at half of WatchdogSec while ctx is alive. It returns
// immediately when the unit has no watchdog.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notifyState(log, daemon.SdNotifyWatchdog)
		}
	}
}
