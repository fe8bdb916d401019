package rosebuild

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"
)

// detectCores returns the number of logical CPUs usable by this process.
func detectCores() int {
	return runtime.NumCPU()
}

// buildJobs is the parallelism handed to make: half the logical cores,
// never less than one.
func buildJobs(cores int) int {
	return max(cores/2, 1)
}

// cpuModel returns the first "model name" entry from /proc/cpuinfo, or the
// GOARCH when it cannot be read.
func cpuModel() string {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return runtime.GOARCH
	}
	defer file.Close()
	if m := parseCPUModel(file); m != "" {
		return m
	}
	return runtime.GOARCH
}

func parseCPUModel(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		// x86 uses "model name", some ARM kernels only expose "Processor"
		if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Processor") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
