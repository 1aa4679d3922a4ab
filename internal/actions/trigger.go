package actions

import (
	"context"
	"fmt"
)

// Trigger names accepted by Dispatch.
const (
	TriggerRefresh         = "refresh"
	TriggerOpenEntity      = "openEntity"
	TriggerToggleEnabled   = "toggleEnabled"
	TriggerUploadEntity    = "uploadEntity"
	TriggerCheckConnection = "checkConnection"
)

// Trigger is a named user command. Collection is ignored by uploadEntity; Arg is
// the entity key for openEntity and the file path for uploadEntity.
type Trigger struct {
	Name       string
	Collection string
	Arg        string
}

// Outcome describes what a dispatched trigger did, for display.
type Outcome struct {
	Message string
	Err     error
}

// Dispatch runs t and summarizes the result. An empty collection for refresh
// refreshes everything.
func (r *Router) Dispatch(ctx context.Context, t Trigger) Outcome {
	switch t.Name {
	case TriggerRefresh:
		if t.Collection == "" {
			results := r.RefreshAll(ctx)
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return Outcome{Message: fmt.Sprintf("refreshed %d collections, %d failed", len(results), failed)}
			}
			return Outcome{Message: fmt.Sprintf("refreshed %d collections", len(results))}
		}
		res, err := r.Refresh(ctx, t.Collection)
		if err != nil {
			return Outcome{Err: err}
		}
		if res.Err != nil {
			return Outcome{Message: fmt.Sprintf("%s: refresh failed, showing last good data", res.Collection), Err: res.Err}
		}
		return Outcome{Message: fmt.Sprintf("%s: %d entries (%s)", res.Collection, res.Count, res.Outcome)}

	case TriggerOpenEntity:
		path, err := r.OpenEntity(ctx, t.Collection, t.Arg)
		if err != nil {
			return Outcome{Err: err}
		}
		return Outcome{Message: "opened " + path}

	case TriggerToggleEnabled:
		enabled, err := r.ToggleEnabled(t.Collection)
		if err != nil {
			return Outcome{Err: err}
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return Outcome{Message: fmt.Sprintf("%s %s", t.Collection, state)}

	case TriggerUploadEntity:
		if err := r.UploadEntity(ctx, t.Arg); err != nil {
			return Outcome{Err: err}
		}
		return Outcome{Message: "uploaded " + t.Arg}

	case TriggerCheckConnection:
		if err := r.CheckConnection(ctx, t.Collection); err != nil {
			return Outcome{Err: err}
		}
		return Outcome{Message: "connection ok"}
	}
	return Outcome{Err: fmt.Errorf("unknown trigger %q", t.Name)}
}
