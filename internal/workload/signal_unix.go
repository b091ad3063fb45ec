//go:build !windows

package workload

import "syscall"

var terminateSignal = syscall.SIGTERM
