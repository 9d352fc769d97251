package coordinator

import (
	"fmt"
	"sort"

	"github.com/loadforge/loadforge/internal/testplan"
)

// distribute splits totalVUs across workers per strategy, returning one
// share per worker in the same order as workers.
func distribute(strategy testplan.DistStrategy, workers []WorkerSpec, totalVUs int) ([]int, error) {
	switch strategy {
	case testplan.DistEven, "":
		return distributeEven(workers, totalVUs), nil
	case testplan.DistCapacityBased:
		return distributeCapacityBased(workers, totalVUs), nil
	case testplan.DistRoundRobin:
		return distributeRoundRobin(workers, totalVUs), nil
	case testplan.DistGeographic:
		return distributeGeographic(workers, totalVUs), nil
	default:
		return nil, fmt.Errorf("coordinator: unknown distribution strategy %q", strategy)
	}
}

// distributeEven floor-divides totalVUs across workers, handing the
// remainder one-by-one to the earliest workers.
func distributeEven(workers []WorkerSpec, totalVUs int) []int {
	n := len(workers)
	shares := make([]int, n)
	if n == 0 {
		return shares
	}
	base := totalVUs / n
	remainder := totalVUs % n
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}

// distributeCapacityBased splits proportionally to each worker's declared
// capacity, rounding down and handing leftover VUs to the highest-capacity
// workers first.
func distributeCapacityBased(workers []WorkerSpec, totalVUs int) []int {
	n := len(workers)
	shares := make([]int, n)
	totalCapacity := 0
	for _, w := range workers {
		totalCapacity += w.Capacity
	}
	if n == 0 || totalCapacity == 0 {
		return distributeEven(workers, totalVUs)
	}

	assigned := 0
	for i, w := range workers {
		shares[i] = totalVUs * w.Capacity / totalCapacity
		assigned += shares[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return workers[order[a]].Capacity > workers[order[b]].Capacity })

	for i := 0; assigned < totalVUs; i++ {
		shares[order[i%n]]++
		assigned++
	}
	return shares
}

// distributeRoundRobin hands out one VU at a time cycling through workers.
func distributeRoundRobin(workers []WorkerSpec, totalVUs int) []int {
	n := len(workers)
	shares := make([]int, n)
	if n == 0 {
		return shares
	}
	for i := 0; i < totalVUs; i++ {
		shares[i%n]++
	}
	return shares
}

// distributeGeographic groups workers by region, splits totalVUs evenly
// across regions, then evenly across workers within each region.
func distributeGeographic(workers []WorkerSpec, totalVUs int) []int {
	n := len(workers)
	shares := make([]int, n)
	if n == 0 {
		return shares
	}

	regionOrder := []string{}
	regionIndices := make(map[string][]int)
	for i, w := range workers {
		if _, ok := regionIndices[w.Region]; !ok {
			regionOrder = append(regionOrder, w.Region)
		}
		regionIndices[w.Region] = append(regionIndices[w.Region], i)
	}

	regionCount := len(regionOrder)
	base := totalVUs / regionCount
	remainder := totalVUs % regionCount

	for ri, region := range regionOrder {
		regionVUs := base
		if ri < remainder {
			regionVUs++
		}
		indices := regionIndices[region]
		within := distributeEvenCount(len(indices), regionVUs)
		for k, idx := range indices {
			shares[idx] = within[k]
		}
	}
	return shares
}

func distributeEvenCount(n, total int) []int {
	shares := make([]int, n)
	if n == 0 {
		return shares
	}
	base := total / n
	remainder := total % n
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}

// rewriteWorkerConfig copies cfg for one worker: unique name suffix,
// replaced virtual_users, webhook outputs dropped, report generation
// disabled (report generation is out of this module's core scope, so
// disabling it means stripping any "file" output of format "report").
func rewriteWorkerConfig(cfg testplan.TestConfiguration, workerIndex, virtualUsers int) testplan.TestConfiguration {
	out := cfg
	out.Name = fmt.Sprintf("%s-worker-%d", cfg.Name, workerIndex)

	load := make([]testplan.LoadPhase, len(cfg.Load))
	copy(load, cfg.Load)
	for i := range load {
		load[i].VirtualUsers = virtualUsers
	}
	out.Load = load

	var outputs []testplan.OutputConfig
	for _, o := range cfg.Outputs {
		if o.Type == "webhook" || o.Format == "report" {
			continue
		}
		outputs = append(outputs, o)
	}
	out.Outputs = outputs

	return out
}
