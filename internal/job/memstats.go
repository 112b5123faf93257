package job

import "runtime"

// residentMemory approximates the bytes the process holds from the OS.
func residentMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys - m.HeapReleased
}

// memoryDeltaMB returns the growth between two samples in whole MiB, floored at zero.
func memoryDeltaMB(before, after uint64) int64 {
	if after <= before {
		return 0
	}
	return int64((after - before) >> 20)
}
