package rstransform

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BlockSize is the number of points one worker evaluates at a time.
const BlockSize = 1024

// TransformPointsContext evaluates pts in blocks of BlockSize on up to
// workers goroutines (GOMAXPROCS when workers <= 0). Results follow the
// TransformPoints contract. Cancelling ctx stops scheduling new blocks and
// returns ctx.Err().
func (h *Instantiated) TransformPointsContext(ctx context.Context, pts []Point, workers int) ([]Point, []bool, error) {
	if err := h.check(); err != nil {
		return nil, nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]Point, len(pts))
	ok := make([]bool, len(pts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(pts); lo += BlockSize {
		if gctx.Err() != nil {
			break
		}
		hi := min(lo+BlockSize, len(pts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, flags, err := h.TransformPoints(pts[lo:hi])
			if err != nil {
				return err
			}
			copy(out[lo:hi], res)
			copy(ok[lo:hi], flags)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return out, ok, nil
}
