package device

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the CPU that runs the fallback path.
type HostInfo struct {
	BrandName     string
	LogicalCores  int
	PhysicalCores int
	AVX2          bool
	NEON          bool
}

// Describe returns the CPU description used in startup logs.
func Describe() HostInfo {
	logical := cpuid.CPU.LogicalCores
	if logical <= 0 {
		logical = runtime.NumCPU()
	}
	return HostInfo{
		BrandName:     cpuid.CPU.BrandName,
		LogicalCores:  logical,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		NEON:          cpuid.CPU.Supports(cpuid.ASIMD),
	}
}

func (h HostInfo) String() string {
	simd := "none"
	switch {
	case h.AVX2:
		simd = "avx2"
	case h.NEON:
		simd = "neon"
	}
	return fmt.Sprintf("%s (%d logical cores, simd=%s)", h.BrandName, h.LogicalCores, simd)
}

// AvailableMemory returns the bytes of memory available to new allocations.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory stats: %w", err)
	}
	return vm.Available, nil
}

// FreeDiskSpace returns the free bytes on the filesystem holding path.
func FreeDiskSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("read disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}
