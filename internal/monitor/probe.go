package monitor

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pbnjay/memory"
	"github.com/ricochet2200/go-disk-usage/du"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// SystemProbe reads utilization from the host. CPU busy time and network
// counters come from /proc and report zero on platforms without it; memory and
// disk work everywhere.
type SystemProbe struct {
	diskPath string

	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
}

// NewSystemProbe creates a probe sampling disk usage at diskPath.
func NewSystemProbe(diskPath string) *SystemProbe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemProbe{diskPath: diskPath}
}

// Usage returns a point-in-time utilization snapshot.
func (p *SystemProbe) Usage() (types.ResourceUsage, error) {
	usage := types.ResourceUsage{Timestamp: time.Now()}

	total := memory.TotalMemory()
	free := memory.FreeMemory()
	if total >= free {
		usage.MemoryMB = int64((total - free) / (1 << 20))
	}

	disk := du.NewDiskUsage(p.diskPath)
	if disk == nil {
		return usage, errors.NewError(errors.ErrCodeProbeFailed, "disk usage unavailable").
			WithComponent("probe").WithDetail("path", p.diskPath)
	}
	usage.DiskMB = int64(disk.Used() / (1 << 20))

	usage.CPUPercent = p.cpuPercent()
	usage.NetworkBytes = readNetworkBytes()

	return usage, nil
}

// Capacity returns total system capacity expressed as a requirement snapshot.
func (p *SystemProbe) Capacity() (types.ResourceRequirement, error) {
	disk := du.NewDiskUsage(p.diskPath)
	var diskMB int64
	if disk != nil {
		diskMB = int64(disk.Size() / (1 << 20))
	}

	return types.ResourceRequirement{
		CPUCores: float64(runtime.NumCPU()),
		MemoryMB: int64(memory.TotalMemory() / (1 << 20)),
		DiskMB:   diskMB,
	}, nil
}

// cpuPercent derives busy percentage from the delta of /proc/stat aggregate
// counters since the previous call. The first call returns 0.
func (p *SystemProbe) cpuPercent() float64 {
	busy, total, ok := readCPUCounters()
	if !ok {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		p.prevBusy = busy
		p.prevTotal = total
	}()

	if p.prevTotal == 0 || total <= p.prevTotal {
		return 0
	}

	busyDelta := float64(busy - p.prevBusy)
	totalDelta := float64(total - p.prevTotal)
	pct := 100 * busyDelta / totalDelta
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func readCPUCounters() (busy, total uint64, ok bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}

	var values []uint64
	for _, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		values = append(values, v)
	}

	for i, v := range values {
		total += v
		// fields 3 (idle) and 4 (iowait) are not busy time
		if i != 3 && i != 4 {
			busy += v
		}
	}
	return busy, total, true
}

func readNetworkBytes() uint64 {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 == nil && err2 == nil {
			total += rx + tx
		}
	}
	return total
}

var _ types.ResourceProbe = (*SystemProbe)(nil)
