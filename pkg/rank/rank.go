// Package rank identifies the current worker process within a distributed
// run.
//
// The pipeline is launched as a set of cooperating processes (mpirun, srun,
// or plain shell fan-out). Rank 0 is the designated emitter for diagnostics
// that would otherwise be duplicated once per worker.
package rank

import (
	"os"
	"strconv"
)

// Oracle reports the rank of the calling process.
type Oracle interface {
	// Rank returns the zero-based rank of this process.
	Rank() int
}

// Fixed is a constant-rank Oracle, mainly for tests and single-process runs.
type Fixed int

func (f Fixed) Rank() int { return int(f) }

// IsMaster reports whether the oracle identifies the designated rank-0
// process. A nil oracle counts as master so that single-process callers need
// no wiring.
func IsMaster(o Oracle) bool {
	return o == nil || o.Rank() == 0
}

// envVars are checked in order; the first one present wins.
// Covers Open MPI, MPICH/Hydra, PMIx and SLURM launchers.
var envVars = []string{
	"OMPI_COMM_WORLD_RANK",
	"PMI_RANK",
	"PMIX_RANK",
	"SLURM_PROCID",
}

type envOracle struct{}

func (envOracle) Rank() int {
	for _, name := range envVars {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}

// FromEnv returns an Oracle that reads the rank from the process launcher
// environment. Outside any launcher it reports rank 0.
func FromEnv() Oracle {
	return envOracle{}
}
