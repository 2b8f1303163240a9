package sgxbuild

import (
	"fmt"
	"io"
	"strings"
)

// Link kinds understood by the host build system.
const (
	LinkStatic = "static"
	LinkDylib  = "dylib"
	LinkNative = "native"
)

// Directives writes instructions for the host build system, one per line.
type Directives struct {
	W      io.Writer
	Prefix string
}

// NewDirectives returns a writer using prefix, or the default prefix when empty.
func NewDirectives(w io.Writer, prefix string) *Directives {
	if prefix == "" {
		prefix = DefaultDirectivePrefix
	}
	return &Directives{W: w, Prefix: prefix}
}

func (d *Directives) emit(key, value string) {
	fmt.Fprintf(d.W, "%s%s=%s\n", d.Prefix, key, value)
}

// RerunIfChanged asks the host to rerun us when path changes.
func (d *Directives) RerunIfChanged(path string) {
	d.emit("rerun-if-changed", path)
}

// LinkSearch adds a library search directory.
func (d *Directives) LinkSearch(kind, dir string) {
	d.emit("link-search", kind+"="+dir)
}

// LinkLib declares a library to link.
func (d *Directives) LinkLib(kind, name string) {
	d.emit("link-lib", kind+"="+name)
}

// Warning surfaces a diagnostic through the host. Multi-line messages are
// split because the channel is line oriented.
func (d *Directives) Warning(format string, a ...any) {
	for _, line := range strings.Split(fmt.Sprintf(format, a...), "\n") {
		if line != "" {
			d.emit("warning", line)
		}
	}
}
