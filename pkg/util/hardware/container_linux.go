//go:build linux

package hardware

import (
	"os"
	"strings"
)

func inContainer() (bool, error) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, nil
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false, err
	}
	s := string(data)
	return strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd"), nil
}
