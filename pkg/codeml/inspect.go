// Package codeml inspects downloaded codeml job outputs.
//
// A codeml .mlc result is valid once codeml has written its closing
// "Time used:" line; the value of that line is the run's wall time. The
// worker wrapper prints the execution host and CPU model to its stdout.
package codeml

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	timeUsedRE = regexp.MustCompile(`(?i)Time used:\s*([\d:]+)`)
	hostnameRE = regexp.MustCompile(`(?i)^\s*hostname\s*[:=]\s*(\S+)`)
	cpuRE      = regexp.MustCompile(`(?i)^\s*(?:cpuinfo|model name)\s*[:=]\s*(.+?)\s*$`)
)

// MLC describes one codeml result file.
type MLC struct {
	Path     string `json:"path"`
	Valid    bool   `json:"valid"`
	TimeUsed int    `json:"time_used_sec"`
}

// ReadMLC inspects a codeml result file. A missing file is reported as
// invalid, not as an error.
func ReadMLC(path string) (MLC, error) {
	res := MLC{Path: path}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("open mlc file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := timeUsedRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		secs, err := ParseClock(m[1])
		if err != nil {
			continue
		}
		res.Valid = true
		res.TimeUsed = secs
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read mlc file: %w", err)
	}
	return res, nil
}

// ParseClock converts "s", "m:ss" or "h:mm:ss" into seconds.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock value %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}

// Worker identifies the execution host of a job.
type Worker struct {
	Hostname string `json:"hostname,omitempty"`
	CPU      string `json:"cpu,omitempty"`
}

// ReadWorker scans the worker wrapper's stdout for host and CPU lines.
func ReadWorker(path string) (Worker, error) {
	var w Worker
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return w, fmt.Errorf("open worker log: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if w.Hostname == "" {
			if m := hostnameRE.FindStringSubmatch(line); m != nil {
				w.Hostname = m[1]
				continue
			}
		}
		if w.CPU == "" {
			if m := cpuRE.FindStringSubmatch(line); m != nil {
				w.CPU = m[1]
			}
		}
	}
	return w, scanner.Err()
}

// Result is the inspection of one job's download directory.
type Result struct {
	Worker
	Outputs []MLC `json:"outputs"`
}

// PhaseWalltimes returns the time used by each .mlc output, in order.
func (r Result) PhaseWalltimes() []int {
	out := make([]int, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		out = append(out, o.TimeUsed)
	}
	return out
}

// OutputValid returns the validity of each .mlc output, in order.
func (r Result) OutputValid() []bool {
	out := make([]bool, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		out = append(out, o.Valid)
	}
	return out
}

// Inspect reads the worker stdout and every .mlc output found under dir.
//
// ngget places files in a subdirectory named after the job's grid id, so
// each file is looked up directly under dir first and then one level down.
func Inspect(dir, stdoutName string, outputs []string) (Result, error) {
	var res Result

	w, err := ReadWorker(locate(dir, stdoutName))
	if err != nil {
		return res, err
	}
	res.Worker = w

	for _, name := range outputs {
		if !strings.HasSuffix(name, ".mlc") {
			continue
		}
		m, err := ReadMLC(locate(dir, name))
		if err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, m)
	}
	return res, nil
}

func locate(dir, name string) string {
	direct := filepath.Join(dir, name)
	if _, err := os.Stat(direct); err == nil {
		return direct
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return direct
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name(), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return direct
}
