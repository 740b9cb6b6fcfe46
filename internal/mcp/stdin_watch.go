package mcp

import (
	"context"
	"os"
	"time"

	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
)

// ParentCheckInterval is how often WatchParent compares the parent pid.
var ParentCheckInterval = 2 * time.Second

// WatchParent cancels the server when the process that launched it goes
// away (the parent pid changes), so an orphaned stdio server does not keep
// browsers alive.
//
// It must not read stdin: the SDK's StdioTransport owns it.
func WatchParent(ctx context.Context, cancelFn context.CancelFunc) {
	ppid := os.Getppid()
	log := logging.New("mcp")
	go func() {
		t := time.NewTicker(ParentCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if os.Getppid() != ppid {
					log.Warn("parent process exited, shutting down", "ppid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
}
