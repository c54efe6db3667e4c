// Package health collects the /health report: process and host resource usage,
// database reachability with round-trip time, and the tracking record count.
// Collection never fails as a whole; unreachable parts degrade the status.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	DBConnected    = "connected"
	DBDisconnected = "disconnected"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Counter interface {
	CountTrackings(ctx context.Context) (int64, error)
}

type Report struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Server    ServerInfo        `json:"server"`
	System    SystemInfo        `json:"system"`
	Memory    MemoryInfo        `json:"memory"`
	Database  DatabaseInfo      `json:"database"`
	Cache     *CacheInfo        `json:"cache,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

type ServerInfo struct {
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Uptime        string    `json:"uptime"`
	GoVersion     string    `json:"goVersion"`
	PID           int       `json:"pid"`
	Goroutines    int       `json:"goroutines"`
	RSSBytes      uint64    `json:"rssBytes"`
	CPUPercent    float64   `json:"cpuPercent"`
	StorageDriver string    `json:"storageDriver"`
	RecordingMode string    `json:"recordingMode"`
}

type SystemInfo struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform,omitempty"`
	PlatformVersion string  `json:"platformVersion,omitempty"`
	Arch            string  `json:"arch"`
	CPUs            int     `json:"cpus"`
	HostUptimeSec   uint64  `json:"hostUptimeSeconds"`
	LoadAvg1        float64 `json:"loadAvg1"`
	LoadAvg5        float64 `json:"loadAvg5"`
	LoadAvg15       float64 `json:"loadAvg15"`
	TotalMemory     uint64  `json:"totalMemory"`
	FreeMemory      uint64  `json:"freeMemory"`
	UsedPercent     float64 `json:"usedPercent"`
}

type MemoryInfo struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInUse  uint64 `json:"heapInUse"`
	NumGC      uint32 `json:"numGC"`
}

type DatabaseInfo struct {
	Status         string  `json:"status"`
	PingMs         float64 `json:"pingMs"`
	TotalTrackings *int64  `json:"totalTrackings"`
	Error          string  `json:"error,omitempty"`
}

type CacheInfo struct {
	Status string  `json:"status"`
	PingMs float64 `json:"pingMs"`
	Error  string  `json:"error,omitempty"`
}

type Reporter struct {
	db      Pinger
	counter Counter
	cache   Pinger

	startedAt     time.Time
	storageDriver string
	recordingMode string
	endpoints     map[string]string
	timeout       time.Duration

	now func() time.Time
}

func New(db Pinger, counter Counter, startedAt time.Time) *Reporter {
	return &Reporter{
		db:        db,
		counter:   counter,
		startedAt: startedAt,
		endpoints: map[string]string{},
		timeout:   2 * time.Second,
		now:       time.Now,
	}
}

func (r *Reporter) WithCache(p Pinger) *Reporter {
	r.cache = p
	return r
}

func (r *Reporter) WithInfo(storageDriver, recordingMode string) *Reporter {
	r.storageDriver = storageDriver
	r.recordingMode = recordingMode
	return r
}

func (r *Reporter) WithEndpoints(endpoints map[string]string) *Reporter {
	r.endpoints = endpoints
	return r
}

func (r *Reporter) Report(ctx context.Context) Report {
	now := r.now().UTC()
	rep := Report{
		Status:    StatusOK,
		Timestamp: now,
		Server:    r.serverInfo(ctx, now),
		System:    systemInfo(ctx),
		Memory:    memoryInfo(),
		Database:  r.databaseInfo(ctx),
		Endpoints: r.endpoints,
	}
	if rep.Database.Status != DBConnected {
		rep.Status = StatusDegraded
	}
	if r.cache != nil {
		ci := r.cacheInfo(ctx)
		rep.Cache = &ci
		if ci.Status != DBConnected {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func (r *Reporter) serverInfo(ctx context.Context, now time.Time) ServerInfo {
	uptime := now.Sub(r.startedAt).Truncate(time.Second)
	si := ServerInfo{
		StartedAt:     r.startedAt.UTC(),
		UptimeSeconds: int64(uptime.Seconds()),
		Uptime:        uptime.String(),
		GoVersion:     runtime.Version(),
		PID:           os.Getpid(),
		Goroutines:    runtime.NumGoroutine(),
		StorageDriver: r.storageDriver,
		RecordingMode: r.recordingMode,
	}
	if p, err := process.NewProcessWithContext(ctx, int32(si.PID)); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			si.RSSBytes = mi.RSS
		}
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			si.CPUPercent = pct
		}
	}
	return si
}

func systemInfo(ctx context.Context) SystemInfo {
	si := SystemInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}
	si.Hostname, _ = os.Hostname()
	if hi, err := host.InfoWithContext(ctx); err == nil {
		si.Platform = hi.Platform
		si.PlatformVersion = hi.PlatformVersion
		si.HostUptimeSec = hi.Uptime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		si.CPUs = n
	}
	if la, err := load.AvgWithContext(ctx); err == nil {
		si.LoadAvg1, si.LoadAvg5, si.LoadAvg15 = la.Load1, la.Load5, la.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		si.TotalMemory = vm.Total
		si.FreeMemory = vm.Available
		si.UsedPercent = vm.UsedPercent
	}
	return si
}

func memoryInfo() MemoryInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryInfo{
		Alloc:      ms.Alloc,
		TotalAlloc: ms.TotalAlloc,
		Sys:        ms.Sys,
		HeapInUse:  ms.HeapInuse,
		NumGC:      ms.NumGC,
	}
}

func (r *Reporter) databaseInfo(ctx context.Context) DatabaseInfo {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	if err := r.db.Ping(ctx); err != nil {
		return DatabaseInfo{Status: DBDisconnected, Error: err.Error()}
	}
	di := DatabaseInfo{
		Status: DBConnected,
		PingMs: millis(time.Since(started)),
	}
	n, err := r.counter.CountTrackings(ctx)
	if err != nil {
		di.Error = err.Error()
		return di
	}
	di.TotalTrackings = &n
	return di
}

func (r *Reporter) cacheInfo(ctx context.Context) CacheInfo {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	if err := r.cache.Ping(ctx); err != nil {
		return CacheInfo{Status: DBDisconnected, Error: err.Error()}
	}
	return CacheInfo{Status: DBConnected, PingMs: millis(time.Since(started))}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
