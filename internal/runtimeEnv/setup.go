// Package runtimeEnv bundles the handful of OS-level concerns a long-lived
// daemon needs at startup: loading a .env file, dropping privileges after
// binding a privileged port, and telling systemd it is ready.
package runtimeEnv

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
)

// LoadEnv loads key=value pairs from file into the process environment.
// Existing environment variables are never overwritten. A missing file is
// not an error; the caller decides whether that matters.
func LoadEnv(file string) error {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(file)
}

// DropPrivileges switches the process to the given group/user. Typically
// called once a privileged listening port has already been bound, since the
// Go runtime applies the underlying setuid/setgid syscall process-wide.
func DropPrivileges(group string, username string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return fmt.Errorf("looking up group %q: %w", group, err)
		}
		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid(%d): %w", gid, err)
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			return fmt.Errorf("looking up user %q: %w", username, err)
		}
		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid(%d): %w", uid, err)
		}
	}

	return nil
}

// SystemdNotify tells systemd the service is ready or reports a status
// string, via sd_notify(3). It is a no-op when not started under systemd.
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}
	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	_ = exec.Command("systemd-notify", args...).Run()
}
