package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

// Realtime pins the calling goroutine to its own kernel thread and switches that thread
// to the round-robin realtime scheduling policy at priority 10, low enough to stay out
// of the way of kernel housekeeping. It helps the radio interrupt worker meet the
// chip's FIFO servicing deadlines on a loaded system.
func Realtime() error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

type schedParam struct {
	Priority int
}
