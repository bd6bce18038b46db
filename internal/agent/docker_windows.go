//go:build windows

package agent

// dockerSockGID has no meaning on Windows; docker group membership is
// handled by the daemon configuration there.
func dockerSockGID() string { return "0" }
