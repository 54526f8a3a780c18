package vm

import "sync/atomic"

// Stats counts what the manager has done since it was built.
type Stats struct {
	Faults       uint64 `json:"faults"`
	FailedFaults uint64 `json:"failed_faults"`
	LazyLoads    uint64 `json:"lazy_loads"`
	StackGrowths uint64 `json:"stack_growths"`
	COWRepairs   uint64 `json:"cow_repairs"`
	Evictions    uint64 `json:"evictions"`
	SwapIns      uint64 `json:"swap_ins"`
	SwapOuts     uint64 `json:"swap_outs"`
	WriteBacks   uint64 `json:"write_backs"`
}

type counters struct {
	faults       atomic.Uint64
	failedFaults atomic.Uint64
	lazyLoads    atomic.Uint64
	stackGrowths atomic.Uint64
	cowRepairs   atomic.Uint64
	evictions    atomic.Uint64
	swapIns      atomic.Uint64
	swapOuts     atomic.Uint64
	writeBacks   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Faults:       c.faults.Load(),
		FailedFaults: c.failedFaults.Load(),
		LazyLoads:    c.lazyLoads.Load(),
		StackGrowths: c.stackGrowths.Load(),
		COWRepairs:   c.cowRepairs.Load(),
		Evictions:    c.evictions.Load(),
		SwapIns:      c.swapIns.Load(),
		SwapOuts:     c.swapOuts.Load(),
		WriteBacks:   c.writeBacks.Load(),
	}
}
