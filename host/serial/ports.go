package serial

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

// portPatterns lists the device globs where USB CDC boards show up
func portPatterns(goos string) ([]string, error) {
	switch goos {
	case "linux":
		return []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/serial/by-id/*"}, nil
	case "darwin":
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*"}, nil
	}
	return nil, fmt.Errorf("serial: unsupported platform %s", goos)
}

// ListPorts returns the serial devices that may be a co-processor,
// with symlinks resolved and duplicates removed
func ListPorts() ([]string, error) {
	patterns, err := portPatterns(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	return globPorts(patterns), nil
}

func globPorts(patterns []string) []string {
	seen := make(map[string]bool)
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}
	sort.Strings(ports)
	return ports
}
