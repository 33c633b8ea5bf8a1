package loans

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var overdueReportGroup singleflight.Group

// coalesce runs fn once per key for concurrent callers. The shared run is detached from
// the first caller's cancellation; each caller still stops waiting when its own context
// ends.
func coalesce(ctx context.Context, key string, fn func(context.Context) (OverdueReport, error)) (OverdueReport, bool, error) {
	ch := overdueReportGroup.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return OverdueReport{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return OverdueReport{}, res.Shared, res.Err
		}
		return res.Val.(OverdueReport), res.Shared, nil
	}
}
