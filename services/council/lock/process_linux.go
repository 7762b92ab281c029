// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// userHz is the kernel clock tick rate used for the starttime field of
// /proc/<pid>/stat. Fixed at 100 on every supported Linux ABI.
const userHz = 100

var (
	bootTimeOnce sync.Once
	bootTimeSecs float64
	bootTimeErr  error
)

// processStartTime returns the creation time of pid as Unix seconds.
//
// # Description
//
// Reads field 22 (starttime, in clock ticks since boot) from
// /proc/<pid>/stat and adds it to the boot time from /proc/stat. The
// comm field may contain spaces and parentheses, so parsing starts
// after the last ')'.
func processStartTime(pid int) (float64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("reading process stat for pid %d: %w", pid, err)
	}

	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 || end+2 > len(stat) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}

	// Fields after the comm field; starttime is overall field 22, which
	// is index 19 here (fields 3..N).
	fields := strings.Fields(stat[end+2:])
	if len(fields) < 20 {
		return 0, fmt.Errorf("short stat for pid %d", pid)
	}

	ticks, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing starttime for pid %d: %w", pid, err)
	}

	boot, err := bootTime()
	if err != nil {
		return 0, err
	}

	return boot + float64(ticks)/userHz, nil
}

// bootTime returns the system boot time (Unix seconds) from /proc/stat.
func bootTime() (float64, error) {
	bootTimeOnce.Do(func() {
		data, err := os.ReadFile("/proc/stat")
		if err != nil {
			bootTimeErr = fmt.Errorf("reading /proc/stat: %w", err)
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			if rest, ok := strings.CutPrefix(line, "btime "); ok {
				secs, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
				if err != nil {
					bootTimeErr = fmt.Errorf("parsing btime: %w", err)
					return
				}
				bootTimeSecs = secs
				return
			}
		}
		bootTimeErr = fmt.Errorf("btime not found in /proc/stat")
	})
	return bootTimeSecs, bootTimeErr
}
