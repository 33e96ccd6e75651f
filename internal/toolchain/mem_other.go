//go:build !linux

package toolchain

func availableMemory() uint64 { return 0 }
