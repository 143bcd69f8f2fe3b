package http

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// hostStats samples the machine the server runs on. Fields that cannot be read are omitted.
func hostStats(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	out := make(map[string]any)
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		out["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["memory_used_percent"] = vm.UsedPercent
		out["memory_total_bytes"] = vm.Total
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		out["host_uptime_seconds"] = up
	}
	return out
}
