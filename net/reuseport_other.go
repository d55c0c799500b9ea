//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package net

import "errors"

const reusePortSupported = false

func setReusePort(uintptr) error {
	return errors.New("SO_REUSEPORT is not supported")
}
