package monitor

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Counters are cumulative resource counters of a process group.
type Counters struct {
	CPUTime time.Duration
	IOBytes uint64
	Procs   int
}

// Sampler reads cumulative counters for every live process in a process group.
type Sampler interface {
	Sample(pgid int) (Counters, error)
}

// ProcSampler reads counters from /proc.
type ProcSampler struct {
	fs procfs.FS
}

// NewProcSampler opens the default /proc mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("monitor: open procfs: %w", err)
	}
	return &ProcSampler{fs: fs}, nil
}

// Sample sums CPU time and I/O bytes over all members of the group. Scanner
// wrappers fork the process doing the real work, so the group leader alone
// is not representative.
func (s *ProcSampler) Sample(pgid int) (Counters, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return Counters{}, fmt.Errorf("monitor: list procs: %w", err)
	}
	var c Counters
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil || stat.PGRP != pgid || stat.State == "Z" {
			continue
		}
		c.Procs++
		c.CPUTime += time.Duration(stat.CPUTime() * float64(time.Second))
		// /proc/<pid>/io is unreadable for other users; CPU still counts.
		if io, err := p.IO(); err == nil {
			c.IOBytes += io.RChar + io.WChar
		}
	}
	return c, nil
}

// Members returns the pids of live (non-zombie) processes in a group.
func (s *ProcSampler) Members(pgid int) ([]int, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("monitor: list procs: %w", err)
	}
	var pids []int
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil || stat.PGRP != pgid || stat.State == "Z" {
			continue
		}
		pids = append(pids, p.PID)
	}
	return pids, nil
}
