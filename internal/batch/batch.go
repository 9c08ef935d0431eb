package batch

import (
	"stitch/internal/config"
	"stitch/internal/segments"
)

// Policy holds the batch sizing thresholds.
type Policy struct {
	LongJobSeconds   float64
	ManySegments     int
	BatchSizeLong    int
	BatchSizeMany    int
	BatchSizeDefault int
}

// DefaultPolicy returns the standard sizing thresholds: jobs over 300
// seconds batch at 2, jobs over 20 segments batch at 3, everything else
// batches at 5.
func DefaultPolicy() Policy {
	return Policy{
		LongJobSeconds:   300,
		ManySegments:     20,
		BatchSizeLong:    2,
		BatchSizeMany:    3,
		BatchSizeDefault: 5,
	}
}

// PolicyFromConfig builds a sizing policy from daemon configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		LongJobSeconds:   float64(cfg.Pipeline.LongJobSeconds),
		ManySegments:     cfg.Pipeline.ManySegments,
		BatchSizeLong:    cfg.Pipeline.BatchSizeLong,
		BatchSizeMany:    cfg.Pipeline.BatchSizeMany,
		BatchSizeDefault: cfg.Pipeline.BatchSizeDefault,
	}
}

// Size picks the batch size for a segment list from its aggregate
// characteristics. Total duration dominates segment count.
func (p Policy) Size(segs []segments.Segment) int {
	if segments.TotalDuration(segs) > p.LongJobSeconds {
		return p.BatchSizeLong
	}
	if len(segs) > p.ManySegments {
		return p.BatchSizeMany
	}
	return p.BatchSizeDefault
}

// Partition splits the segment list into consecutive batches of at most
// size elements, preserving order.
func Partition(segs []segments.Segment, size int) [][]segments.Segment {
	if size < 1 {
		size = 1
	}
	var batches [][]segments.Segment
	for start := 0; start < len(segs); start += size {
		end := start + size
		if end > len(segs) {
			end = len(segs)
		}
		batches = append(batches, segs[start:end])
	}
	return batches
}
