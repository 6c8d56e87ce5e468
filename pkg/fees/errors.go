package fees

import "fmt"

// BlockFetchError reports a failed block download. Estimate never returns it: the
// estimate falls back to the caller's default and the error is only observed.
type BlockFetchError struct {
	Height *uint64 // nil when the chain tip itself could not be read
	Err    error
}

func (e *BlockFetchError) Error() string {
	if e.Height == nil {
		return fmt.Sprintf("failed to fetch chain tip: %v", e.Err)
	}
	return fmt.Sprintf("failed to fetch block %d: %v", *e.Height, e.Err)
}

func (e *BlockFetchError) Unwrap() error {
	return e.Err
}
