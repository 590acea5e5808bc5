//go:build darwin

package mmap

import (
	"syscall"
	"unsafe"
)

const supported = true

// mmap wraps the mmap system call
func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return syscall.Mmap(fd, offset, length, prot, flags)
}

// munmap wraps the munmap system call
func munmap(b []byte) error {
	return syscall.Munmap(b)
}

// madvise wraps the madvise system call
func madvise(b []byte, advice int) error {
	if len(b) == 0 {
		return nil
	}
	_, _, err := syscall.Syscall(syscall.SYS_MADVISE, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), uintptr(advice))
	if err != 0 {
		return err
	}
	return nil
}

const (
	protRead       = syscall.PROT_READ
	mapShared      = syscall.MAP_SHARED
	madvRandom     = 1
	madvSequential = 2
	madvWillneed   = 3
)
