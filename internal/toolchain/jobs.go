package toolchain

import "runtime"

const (
	maxJobs = 64
	// memPerJob is the memory budget of one compiler process.
	memPerJob = 512 << 20
)

// DefaultJobs returns the parallel job count for native builds: CPUs plus
// two, lowered so every job has memPerJob of available memory, within
// [1, maxJobs].
func DefaultJobs() int {
	return jobsFor(runtime.NumCPU(), availableMemory())
}

func jobsFor(cpus int, mem uint64) int {
	jobs := cpus + 2
	if mem > 0 {
		if byMem := int(mem / memPerJob); byMem < jobs {
			jobs = byMem
		}
	}
	return max(1, min(jobs, maxJobs))
}
