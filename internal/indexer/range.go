package indexer

import "fmt"

// BlockRange is an inclusive block window scanned in one request.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive windows of at most chunkSize
// blocks. The last window ends exactly at to.
func SplitRange(from, to, chunkSize uint64) ([]BlockRange, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/chunkSize+1)
	for start := from; ; {
		end := to
		if to-start >= chunkSize {
			end = start + chunkSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}
