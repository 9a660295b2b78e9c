package sysmetrics

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// clockTicks 是 /proc/<pid>/stat 中 utime/stime 的单位（USER_HZ）
const clockTicks = 100

// DefaultInterval CPU 百分比的采样窗口
const DefaultInterval = 100 * time.Millisecond

// =============================================================================
// 📊 快照结构
// =============================================================================

// Snapshot 某一时刻的资源使用快照
type Snapshot struct {
	Memory MemoryStats `json:"memory"`
	CPU    CPUStats    `json:"cpu"`
}

// MemoryStats 内存指标（字节 / 百分比）
type MemoryStats struct {
	RSS             uint64  `json:"rss"`
	VMS             uint64  `json:"vms"`
	Percent         float64 `json:"percent"`
	SystemTotal     uint64  `json:"system_total"`
	SystemAvailable uint64  `json:"system_available"`
	SystemPercent   float64 `json:"system_percent"`
	Err             string  `json:"error,omitempty"`
}

// MarshalJSON 读取失败时只输出 error 字段
func (m MemoryStats) MarshalJSON() ([]byte, error) {
	if m.Err != "" {
		return json.Marshal(map[string]string{"error": m.Err})
	}
	type plain MemoryStats
	return json.Marshal(plain(m))
}

// CPUStats CPU 指标
type CPUStats struct {
	ProcessPercent float64 `json:"process_percent"`
	SystemPercent  float64 `json:"system_percent"`
	UserTime       float64 `json:"user_time"`
	SystemTime     float64 `json:"system_time"`
	Threads        int     `json:"threads"`
	Err            string  `json:"error,omitempty"`
}

// MarshalJSON 读取失败时只输出 error 字段
func (c CPUStats) MarshalJSON() ([]byte, error) {
	if c.Err != "" {
		return json.Marshal(map[string]string{"error": c.Err})
	}
	type plain CPUStats
	return json.Marshal(plain(c))
}

// Environment 任务创建时记录的运行环境
type Environment struct {
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
	CPUCount    int    `json:"cpu_count"`
	MemoryTotal uint64 `json:"memory_total"`
}

// =============================================================================
// 🔌 数据源
// =============================================================================

type procSample struct {
	rss, vms        uint64
	userSec, sysSec float64
	threads         int
}

type memSample struct {
	total, available uint64
}

type cpuSample struct {
	busy, total float64
}

// source 抽象 /proc 读取，便于测试注入故障
type source interface {
	process() (procSample, error)
	memory() (memSample, error)
	cpu() (cpuSample, error)
}

type procfsSource struct {
	fs  procfs.FS
	pid int
}

func (s procfsSource) process() (procSample, error) {
	p, err := s.fs.Proc(s.pid)
	if err != nil {
		return procSample{}, fmt.Errorf("open proc %d: %w", s.pid, err)
	}
	st, err := p.Stat()
	if err != nil {
		return procSample{}, fmt.Errorf("read proc stat: %w", err)
	}
	return procSample{
		rss:     uint64(st.ResidentMemory()),
		vms:     uint64(st.VirtualMemory()),
		userSec: float64(st.UTime) / clockTicks,
		sysSec:  float64(st.STime) / clockTicks,
		threads: st.NumThreads,
	}, nil
}

func (s procfsSource) memory() (memSample, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return memSample{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil {
		return memSample{}, fmt.Errorf("meminfo missing MemTotal/MemAvailable")
	}
	return memSample{total: *mi.MemTotal * 1024, available: *mi.MemAvailable * 1024}, nil
}

func (s procfsSource) cpu() (cpuSample, error) {
	st, err := s.fs.Stat()
	if err != nil {
		return cpuSample{}, fmt.Errorf("read stat: %w", err)
	}
	c := st.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + idle + c.IRQ + c.SoftIRQ + c.Steal
	return cpuSample{busy: total - idle, total: total}, nil
}

// =============================================================================
// 🎯 Collector
// =============================================================================

// Collector 资源指标采样器，无内部状态，可并发调用
type Collector struct {
	src      source
	interval time.Duration
	logger   *zap.Logger
}

// Option Collector 选项
type Option func(*Collector)

// WithInterval 设置 CPU 百分比采样窗口，0 表示不等待（百分比为 0）
func WithInterval(d time.Duration) Option {
	return func(c *Collector) { c.interval = d }
}

// NewCollector 创建基于 /proc 的采样器
func NewCollector(logger *zap.Logger, opts ...Option) (*Collector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return newCollector(procfsSource{fs: fs, pid: os.Getpid()}, logger, opts...), nil
}

func newCollector(src source, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		src:      src,
		interval: DefaultInterval,
		logger:   logger.With(zap.String("component", "sysmetrics")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sample 采集一次快照
func (c *Collector) Sample() Snapshot {
	return Snapshot{
		Memory: c.sampleMemory(),
		CPU:    c.sampleCPU(),
	}
}

func (c *Collector) sampleMemory() MemoryStats {
	proc, err := c.src.process()
	if err != nil {
		return c.memoryFailure(err)
	}
	sys, err := c.src.memory()
	if err != nil {
		return c.memoryFailure(err)
	}

	return MemoryStats{
		RSS:             proc.rss,
		VMS:             proc.vms,
		Percent:         percent(float64(proc.rss), float64(sys.total)),
		SystemTotal:     sys.total,
		SystemAvailable: sys.available,
		SystemPercent:   percent(float64(sys.total-sys.available), float64(sys.total)),
	}
}

func (c *Collector) sampleCPU() CPUStats {
	before, err := c.src.process()
	if err != nil {
		return c.cpuFailure(err)
	}
	sysBefore, err := c.src.cpu()
	if err != nil {
		return c.cpuFailure(err)
	}

	start := time.Now()
	if c.interval > 0 {
		time.Sleep(c.interval)
	}
	wall := time.Since(start).Seconds()

	after, err := c.src.process()
	if err != nil {
		return c.cpuFailure(err)
	}
	sysAfter, err := c.src.cpu()
	if err != nil {
		return c.cpuFailure(err)
	}

	var processPercent float64
	if c.interval > 0 {
		used := (after.userSec + after.sysSec) - (before.userSec + before.sysSec)
		processPercent = percent(used, wall)
	}

	return CPUStats{
		ProcessPercent: processPercent,
		SystemPercent:  percent(sysAfter.busy-sysBefore.busy, sysAfter.total-sysBefore.total),
		UserTime:       after.userSec,
		SystemTime:     after.sysSec,
		Threads:        after.threads,
	}
}

func (c *Collector) memoryFailure(err error) MemoryStats {
	c.logger.Warn("memory metrics unavailable", zap.Error(err))
	return MemoryStats{Err: err.Error()}
}

func (c *Collector) cpuFailure(err error) CPUStats {
	c.logger.Warn("cpu metrics unavailable", zap.Error(err))
	return CPUStats{Err: err.Error()}
}

// Environment 返回运行环境信息，内存总量读取失败时为 0
func (c *Collector) Environment() Environment {
	env := Environment{
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		CPUCount:  runtime.NumCPU(),
	}
	if mem, err := c.src.memory(); err == nil {
		env.MemoryTotal = mem.total
	} else {
		c.logger.Warn("memory total unavailable", zap.Error(err))
	}
	return env
}

// percent 计算百分比，分母为 0 时返回 0
func percent(part, whole float64) float64 {
	if whole <= 0 || part < 0 {
		return 0
	}
	return part / whole * 100
}
