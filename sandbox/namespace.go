//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux clone3 ABI struct (uapi/linux/sched.h)
type cloneArgs struct {

	// CLONE_* flags
	Flags uint64

	// int *pidfd (user pointer)
	Pidfd uint64

	// int *ctid
	ChildTid uint64

	// int *ptid
	ParentTid uint64

	// exit signal (e.g., SIGCHLD)
	ExitSignal uint64

	// child stack (0 = inherit)
	Stack uint64

	// size of stack
	StackSize uint64

	// TLS pointer
	TLS uint64

	// pid_t *set_tid
	SetTid uint64

	// len(set_tid)
	SetTidSize uint64

	// int *cgroup fd (since 5.7)
	Cgroup uint64
}

/**
 * Namespaces the sandbox runs in. The mount namespace is requested
 * together with the user namespace so the kernel creates it owned by
 * the new user namespace, strictly after it.
 */
var namespaceFlags = unix.CLONE_NEWUSER | unix.CLONE_NEWNS

/**
 * Create the sandbox child in fresh user and mount namespaces via the
 * clone3 syscall. A bare unshare(CLONE_NEWUSER) is refused for
 * multithreaded callers, which the Go runtime always is; cloning a
 * fresh single-threaded child sidesteps the restriction while keeping
 * the parent free to run the id-mapping helpers against it.
 * @return the child pid (0 in the child itself) and error if any
 */
func cloneNamespacedChild() (int, error) {
	args := cloneArgs{
		Flags:      uint64(namespaceFlags),
		ExitSignal: uint64(unix.SIGCHLD),
	}

	pid, _, errno := unix.Syscall(
		unix.SYS_CLONE3,
		uintptr(unsafe.Pointer(&args)),
		uintptr(unsafe.Sizeof(args)),
		0,
	)
	if errno != 0 {
		return -1, fmt.Errorf("Couldn't enter namespace: clone3: %w", errno)
	}
	return int(pid), nil
}

/**
 * Create a pipe for synchronization between parent and child. The
 * child blocks on it until the parent has populated its id maps.
 * @return read and write file descriptors, or an error if any
 */
func makeSyncPipe() (int, int, error) {
	var p [2]int

	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

/**
 * Block until the parent signals that the id maps are in place.
 * A closed pipe without a signal byte means the parent gave up.
 * @param rfd the read end of the sync pipe
 * @return error if any
 */
func waitForParent(rfd int) error {
	var one [1]byte

	n, err := unix.Read(rfd, one[:])
	_ = unix.Close(rfd)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("parent aborted before id maps were written")
	}
	return nil
}

/**
 * Release the child blocked on the sync pipe.
 * @param wfd the write end of the sync pipe
 * @return error if any
 */
func signalChild(wfd int) error {
	_, err := unix.Write(wfd, []byte{1})
	cerr := unix.Close(wfd)
	if err != nil {
		return err
	}
	return cerr
}

/**
 * Close both ends of the sync pipe.
 */
func closePipe(rfd, wfd int) {
	_ = unix.Close(rfd)
	_ = unix.Close(wfd)
}

/**
 * Populate the child's id maps from the invoking user's subordinate-id
 * delegation. The uid map goes first; setgroups must be denied before
 * the gid map is touched, a kernel requirement for unprivileged
 * writers that protects group-readable-but-not-world-readable files.
 * @param pid the namespaced child's pid
 * @return error if any
 */
func setupIdMappings(pid int) error {
	usr, err := user.Current()
	if err != nil {
		return fmt.Errorf("Couldn't query the invoking user: %w", err)
	}

	uidPlan, err := planFor(MappingUid, usr.Username, uint32(os.Getuid()))
	if err != nil {
		return err
	}
	gidPlan, err := planFor(MappingGid, usr.Username, uint32(os.Getgid()))
	if err != nil {
		return err
	}

	if err := applyMapping(pid, MappingUid, uidPlan); err != nil {
		return err
	}
	if err := denySetgroups(pid); err != nil {
		return err
	}
	return applyMapping(pid, MappingGid, gidPlan)
}

/**
 * Build the mapping plan for one id flavor of the invoking user.
 * @param kind the mapping kind
 * @param username the invoking user's name
 * @param outer the invoking user's id on the host
 * @return the plan and error if any
 */
func planFor(kind MappingKind, username string, outer uint32) (MappingPlan, error) {
	ranges, err := ReadSubidRanges(kind, username)
	if err != nil {
		return nil, err
	}
	return BuildMappingPlan(outer, ranges), nil
}

/**
 * Install a mapping plan into the child's namespace. Identity-only
 * plans are written straight into the procfs map file, which the
 * kernel permits the unprivileged invoker to do; anything larger goes
 * through the setuid helper, the only writer allowed to hand out
 * delegated ranges.
 * @param pid the namespaced child's pid
 * @param kind the mapping kind
 * @param plan the mapping plan
 * @return error if any
 */
func applyMapping(pid int, kind MappingKind, plan MappingPlan) error {
	if plan.IdentityOnly() {
		if err := os.WriteFile(kind.MapFile(pid), []byte(plan.MapFileContent()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", kind.MapFile(pid), err)
		}
		return nil
	}

	helper, err := exec.LookPath(kind.Helper())
	if err != nil {
		return fmt.Errorf("%s not found (install shadow-utils or drop the "+
			"subordinate %s delegation): %w", kind.Helper(), kind, err)
	}
	if out, err := exec.Command(helper, plan.HelperArgs(pid)...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\n%s", kind.Helper(), err, out)
	}
	return nil
}

/**
 * Deny setgroups in the child's namespace. Must happen before the gid
 * map is written.
 * @param pid the namespaced child's pid
 * @return error if any
 */
func denySetgroups(pid int) error {
	path := fmt.Sprintf("/proc/%d/setgroups", pid)

	if err := os.WriteFile(path, []byte("deny"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
