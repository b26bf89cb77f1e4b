package pipeline

import "time"

// SplitSegments covers [0, total) with consecutive windows of the
// target duration. The cover is exhaustive and non-overlapping and the
// count equals ceil(total/target); only the last window may be short.
func SplitSegments(total, target time.Duration) []Segment {
	if total <= 0 || target <= 0 {
		return nil
	}
	segments := make([]Segment, 0, int(total/target)+1)
	for start := time.Duration(0); start < total; start += target {
		end := start + target
		if end > total {
			end = total
		}
		segments = append(segments, Segment{
			Index: len(segments),
			Start: start,
			End:   end,
		})
	}
	return segments
}
