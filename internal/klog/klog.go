// Package klog is the kernel's boot-time logger. Real kernels have nothing
// richer than a byte stream to print to, so this wraps fmt.Fprintf over
// os.Stderr the same way biscuit's mem.Phys_init prints its boot banner
// with a bare fmt.Printf.
package klog

import (
	"fmt"
	"io"
	"os"
)

// Output is the destination for kernel log lines; tests may redirect it.
var Output io.Writer = os.Stderr

// Printf writes a formatted boot/diagnostic line.
func Printf(format string, args ...interface{}) {
	fmt.Fprintf(Output, format, args...)
}

// Println writes a diagnostic line with a trailing newline.
func Println(args ...interface{}) {
	fmt.Fprintln(Output, args...)
}
