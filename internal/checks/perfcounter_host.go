package checks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

const megabyte = 1024 * 1024

type sampleFunc func(ctx context.Context) (float64, error)

type hostCounter struct {
	path   CounterPath
	sample sampleFunc
}

func (c hostCounter) Path() CounterPath { return c.path }

func (c hostCounter) Sample(ctx context.Context) (float64, error) { return c.sample(ctx) }

// HostCounterSource maps the common counter categories onto gopsutil.
type HostCounterSource struct{}

func NewHostCounterSource() *HostCounterSource {
	return &HostCounterSource{}
}

func (s *HostCounterSource) Resolve(ctx context.Context, path CounterPath) ([]Counter, error) {
	switch strings.ToLower(path.Category) {
	case "processor":
		return s.processor(ctx, path)
	case "memory":
		return s.memory(path)
	case "logicaldisk":
		return s.logicalDisk(ctx, path)
	case "network interface":
		return s.network(ctx, path)
	default:
		return nil, fmt.Errorf("unknown category %q", path.Category)
	}
}

func (s *HostCounterSource) processor(ctx context.Context, path CounterPath) ([]Counter, error) {
	if !strings.EqualFold(path.Counter, "% Processor Time") {
		return nil, fmt.Errorf("unknown counter %q", path.Counter)
	}

	switch path.Instance {
	case "", "_Total", "_total":
		return []Counter{hostCounter{path: path, sample: func(ctx context.Context) (float64, error) {
			return cpuPercent(ctx, false, 0)
		}}}, nil
	case "*":
		counts, err := cpu.CountsWithContext(ctx, true)
		if err != nil {
			return nil, err
		}
		counters := make([]Counter, 0, counts)
		for i := 0; i < counts; i++ {
			idx := i
			p := path
			p.Instance = strconv.Itoa(idx)
			counters = append(counters, hostCounter{path: p, sample: func(ctx context.Context) (float64, error) {
				return cpuPercent(ctx, true, idx)
			}})
		}
		return counters, nil
	default:
		idx, err := strconv.Atoi(path.Instance)
		if err != nil {
			return nil, fmt.Errorf("unknown processor instance %q", path.Instance)
		}
		return []Counter{hostCounter{path: path, sample: func(ctx context.Context) (float64, error) {
			return cpuPercent(ctx, true, idx)
		}}}, nil
	}
}

func cpuPercent(ctx context.Context, perCPU bool, idx int) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 0, perCPU)
	if err != nil {
		return 0, err
	}
	if idx >= len(values) {
		return 0, fmt.Errorf("processor %d not found", idx)
	}
	return values[idx], nil
}

func (s *HostCounterSource) memory(path CounterPath) ([]Counter, error) {
	var pick func(*mem.VirtualMemoryStat) float64
	switch strings.ToLower(path.Counter) {
	case "available bytes":
		pick = func(v *mem.VirtualMemoryStat) float64 { return float64(v.Available) }
	case "available mbytes":
		pick = func(v *mem.VirtualMemoryStat) float64 { return float64(v.Available / megabyte) }
	case "committed bytes":
		pick = func(v *mem.VirtualMemoryStat) float64 { return float64(v.Used) }
	case "% committed bytes in use":
		pick = func(v *mem.VirtualMemoryStat) float64 { return v.UsedPercent }
	default:
		return nil, fmt.Errorf("unknown counter %q", path.Counter)
	}

	return []Counter{hostCounter{path: path, sample: func(ctx context.Context) (float64, error) {
		v, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return pick(v), nil
	}}}, nil
}

func (s *HostCounterSource) logicalDisk(ctx context.Context, path CounterPath) ([]Counter, error) {
	var pick func(*disk.UsageStat) float64
	switch strings.ToLower(path.Counter) {
	case "% free space":
		pick = func(u *disk.UsageStat) float64 { return 100 - u.UsedPercent }
	case "free megabytes":
		pick = func(u *disk.UsageStat) float64 { return float64(u.Free / megabyte) }
	default:
		return nil, fmt.Errorf("unknown counter %q", path.Counter)
	}

	mounts := []string{path.Instance}
	if path.Instance == "" || path.Instance == "*" || strings.EqualFold(path.Instance, "_Total") {
		partitions, err := disk.PartitionsWithContext(ctx, false)
		if err != nil {
			return nil, err
		}
		mounts = mounts[:0]
		for _, p := range partitions {
			mounts = append(mounts, p.Mountpoint)
		}
	}

	counters := make([]Counter, 0, len(mounts))
	for _, mount := range mounts {
		m := mount
		p := path
		p.Instance = m
		counters = append(counters, hostCounter{path: p, sample: func(ctx context.Context) (float64, error) {
			u, err := disk.UsageWithContext(ctx, m)
			if err != nil {
				return 0, err
			}
			return pick(u), nil
		}})
	}
	return counters, nil
}

func (s *HostCounterSource) network(ctx context.Context, path CounterPath) ([]Counter, error) {
	var pick func(net.IOCountersStat) float64
	switch strings.ToLower(path.Counter) {
	case "bytes received":
		pick = func(c net.IOCountersStat) float64 { return float64(c.BytesRecv) }
	case "bytes sent":
		pick = func(c net.IOCountersStat) float64 { return float64(c.BytesSent) }
	case "bytes total":
		pick = func(c net.IOCountersStat) float64 { return float64(c.BytesRecv + c.BytesSent) }
	case "packets received":
		pick = func(c net.IOCountersStat) float64 { return float64(c.PacketsRecv) }
	case "packets sent":
		pick = func(c net.IOCountersStat) float64 { return float64(c.PacketsSent) }
	default:
		return nil, fmt.Errorf("unknown counter %q", path.Counter)
	}

	names := []string{path.Instance}
	if path.Instance == "" || path.Instance == "*" {
		stats, err := net.IOCountersWithContext(ctx, true)
		if err != nil {
			return nil, err
		}
		names = names[:0]
		for _, st := range stats {
			names = append(names, st.Name)
		}
	}

	counters := make([]Counter, 0, len(names))
	for _, name := range names {
		iface := name
		p := path
		p.Instance = iface
		counters = append(counters, hostCounter{path: p, sample: func(ctx context.Context) (float64, error) {
			stats, err := net.IOCountersWithContext(ctx, true)
			if err != nil {
				return 0, err
			}
			for _, st := range stats {
				if st.Name == iface {
					return pick(st), nil
				}
			}
			return 0, fmt.Errorf("interface %q not found", iface)
		}})
	}
	return counters, nil
}
