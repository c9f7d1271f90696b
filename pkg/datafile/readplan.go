package datafile

import "fmt"

// ReadPlan is the result of clamping a padded chunk request against the
// usable sample range. Backends read rows [Start, End) from storage into the
// destination block beginning at row DstOffset; every row outside that span
// stays zero-filled.
type ReadPlan struct {
	// Start and End bound the on-storage sample range to actually read.
	Start int64
	End   int64

	// DstOffset is the number of leading zero rows in the destination
	// block (padding that fell before sample 0).
	DstOffset int64

	// Rows is the total row count of the destination block.
	Rows int64
}

// PlanRead clamps the padded range of chunk idx to [0, maxOffset) and
// reports where the readable span lands inside the destination block. The
// nominal, unpadded range must already have been validated by the caller.
func PlanRead(idx, chunkSize int64, pad Padding, maxOffset int64) (ReadPlan, error) {
	lo := idx*chunkSize + pad.Before
	hi := (idx+1)*chunkSize + pad.After
	rows := hi - lo
	if rows <= 0 {
		return ReadPlan{}, fmt.Errorf("padded range [%d, %d) is empty", lo, hi)
	}

	plan := ReadPlan{Start: lo, End: hi, Rows: rows}
	if plan.Start < 0 {
		plan.DstOffset = -plan.Start
		plan.Start = 0
	}
	if plan.End > maxOffset {
		plan.End = maxOffset
	}
	if plan.End < plan.Start {
		plan.End = plan.Start
	}
	return plan, nil
}
