// Package notify delivers progress messages of a backup run.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Notifier sends one human readable progress message.
// Delivery is best effort: implementations log failures instead of returning them.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Func adapts a function to a Notifier.
type Func func(ctx context.Context, msg string)

func (f Func) Notify(ctx context.Context, msg string) { f(ctx, msg) }

// Elapsed formats d as "Xm Ys Zms".
func Elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second
	millis := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%dm %ds %dms", minutes, seconds, millis)
}
