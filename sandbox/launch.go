//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

/**
 * Build the shell prelude sourced by the interactive shell: the user's
 * own bashrc first, then a green prompt tagged with the environment
 * name.
 * @param name the environment name shown in the prompt
 * @return the prelude script
 */
func shellPrelude(name string) string {
	return "[ -e ~/.bashrc ] && source ~/.bashrc\n" +
		fmt.Sprintf("PS1=\"\\[\\e[1;32m\\][%s]\\[\\e[0m\\] $PS1\"\n", name)
}

/**
 * Replace the current process image with the sandboxed program: either
 * `bash -c` over the user-supplied command string, or an interactive
 * bash whose init file is the prelude, delivered through an inherited
 * pipe so nothing is written to disk. No fork happens here; the shell
 * takes over this very process.
 * @param opts the sandbox options
 * @return the replacement error; this function does not return on success
 */
func Launch(opts *SandboxOptions) error {
	bash, err := exec.LookPath("bash")
	if err != nil {
		return fmt.Errorf("Couldn't find bash in the sandbox: %w", err)
	}

	argv := []string{"bash"}
	if opts.Run != "" {
		argv = append(argv, "-c", opts.Run)
	} else {
		fd, err := preludeFd(shellPrelude(opts.Name))
		if err != nil {
			return err
		}
		argv = append(argv, "--init-file", fmt.Sprintf("/proc/self/fd/%d", fd))
	}

	err = unix.Exec(bash, argv, os.Environ())
	return fmt.Errorf("Couldn't launch %s: %w", bash, err)
}

/**
 * Stage a script on an inherited pipe file descriptor. The write end
 * is filled and closed before exec; the read end survives the exec so
 * the shell can open it as /proc/self/fd/N.
 * @param script the script content
 * @return the readable file descriptor and error if any
 */
func preludeFd(script string) (int, error) {
	var p [2]int

	// The prelude is far smaller than the pipe buffer, so a single
	// write before exec cannot block.
	if err := unix.Pipe(p[:]); err != nil {
		return -1, fmt.Errorf("Couldn't create the prelude pipe: %w", err)
	}
	if _, err := unix.Write(p[1], []byte(script)); err != nil {
		return -1, fmt.Errorf("Couldn't write the prelude: %w", err)
	}
	if err := unix.Close(p[1]); err != nil {
		return -1, err
	}
	return p[0], nil
}
