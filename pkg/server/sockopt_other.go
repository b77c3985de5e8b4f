//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package server

func controlReusePort() control {
	return nil
}
