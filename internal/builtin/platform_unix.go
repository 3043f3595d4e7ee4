//go:build unix

package builtin

import "golang.org/x/sys/unix"

// currentUmask reads the process umask without disturbing it: Umask(0)
// both sets and returns the old mask, so it must be immediately restored.
func currentUmask() uint32 {
	old := unix.Umask(0)
	unix.Umask(old)
	return uint32(old)
}

func setUmask(mask uint32) {
	unix.Umask(int(mask))
}

func currentFDLimit() (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}
	return rlim.Cur, nil
}
