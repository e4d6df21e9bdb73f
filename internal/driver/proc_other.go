//go:build !unix

package driver

import "os/exec"

// configureProcessGroup keeps exec's default cancellation, which kills only
// the driver process itself.
func configureProcessGroup(cmd *exec.Cmd) {}
