package gc

import (
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"

	"violet_go/pkg/heap"
)

const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[2m"
	ansiCyan   = "\x1b[36m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
)

// DumpHeap writes a human-readable snapshot of every tracked object:
// the three lists with each object's color, kind, accounted size and
// outgoing reference count, followed by per-kind totals and the pacer
// state. With colorize set, colors are rendered with ANSI escapes;
// pass a terminal-aware writer for that.
func (c *Collector) DumpHeap(w io.Writer, colorize bool) {
	paint := func(code, s string) string {
		if !colorize {
			return s
		}
		return code + s + ansiReset
	}
	kindCount := make(map[heap.Kind]int)
	kindBytes := make(map[heap.Kind]uint64)
	dumpList := func(name string, head heap.Object) {
		fmt.Fprintf(w, "%s\n", paint(ansiCyan, name))
		for o := head; o != nil; o = o.GCHeader().Next() {
			h := o.GCHeader()
			kindCount[h.Kind()]++
			kindBytes[h.Kind()] += uint64(h.Size())
			refs := 0
			o.ForEachChild(func(heap.Object) { refs++ })
			color, code := "white", ansiDim
			switch {
			case h.IsBlack():
				color, code = "black", ansiGreen
			case h.IsGray():
				color, code = "gray", ansiYellow
			}
			fmt.Fprintf(w, "  %p %-8s %-6s %10s  refs=%d\n",
				o, h.Kind(), paint(code, color),
				bytesize.ByteSize(h.Size()), refs)
		}
	}
	dumpList("allgc", c.allgc)
	dumpList("finobj", c.finobj)
	dumpList("tobefnz", c.tobefnz)

	fmt.Fprintf(w, "%s\n", paint(ansiCyan, "by kind"))
	for k := heap.KindString; k <= heap.KindThread; k++ {
		if kindCount[k] == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-8s %6d objects %10s\n",
			k, kindCount[k], bytesize.ByteSize(kindBytes[k]))
	}
	fmt.Fprintf(w, "%s\n", paint(ansiCyan, "pacer"))
	fmt.Fprintf(w, "  phase=%s usage=%s estimate=%s threshold=%s debt=%d\n",
		c.phase, bytesize.ByteSize(c.usage), bytesize.ByteSize(c.estimate),
		bytesize.ByteSize(c.threshold), c.debt)
}
