//go:build !windows

package agent

import (
	"os"
	"strconv"
	"syscall"
)

// dockerSockGID returns the GID of /var/run/docker.sock for --group-add,
// so the containerized agent can drive compose through the host daemon.
func dockerSockGID() string {
	info, err := os.Stat("/var/run/docker.sock")
	if err != nil {
		return "0"
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(stat.Gid), 10)
	}
	return "0"
}
