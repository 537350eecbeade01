package comm

import (
	"fmt"
	"io"
	"os"
)

// Fprintf writes to w only on the root rank. Not collective.
func (c *Comm) Fprintf(w io.Writer, format string, a ...interface{}) {
	if c.rank != Root { return }
	fmt.Fprintf(w, format, a...)
}

// Printf writes to stdout only on the root rank. Not collective.
func (c *Comm) Printf(format string, a ...interface{}) {
	c.Fprintf(os.Stdout, format, a...)
}

// Println writes a line to stdout only on the root rank. Not collective.
func (c *Comm) Println(a ...interface{}) {
	if c.rank != Root { return }
	fmt.Println(a...)
}

// AllFprintf writes to w on every rank, prefixed by the rank. This is mostly
// useful for debugging. Not collective.
func (c *Comm) AllFprintf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, fmt.Sprintf("P%d: ", c.rank) + format, a...)
}

// AllPrintf is AllFprintf to stdout.
func (c *Comm) AllPrintf(format string, a ...interface{}) {
	c.AllFprintf(os.Stdout, format, a...)
}
