package options

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/propsheet/internal/events"
)

// WatchScopes invalidates cached options whenever a scope event arrives on
// sub. It blocks until ctx is done or the subscription channel closes.
func WatchScopes(ctx context.Context, sub events.Subscriber, r *Resolver) error {
	ch, cancel, err := sub.Subscribe(events.TopicScopeAll)
	if err != nil {
		return fmt.Errorf("subscribing to scope events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var ev events.ScopeChanged
			if err := json.Unmarshal(data, &ev); err != nil {
				r.logger.Warn("ignoring malformed scope event", "err", err)
				continue
			}
			if !ev.Level.IsValid() || ev.ServerID == "" {
				r.logger.Warn("ignoring scope event without a scope", "level", ev.Level)
				continue
			}
			r.Invalidate(ev.Level, NodeInfo{
				ServerID:   ev.ServerID,
				DatabaseID: ev.DatabaseID,
				SchemaID:   ev.SchemaID,
			})
		}
	}
}
