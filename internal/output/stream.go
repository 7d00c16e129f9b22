// Package output collects command output a line at a time.
package output

import (
	"bytes"
	"io"
	"sync"
)

const (
	// DefaultTailLines is how many trailing lines are kept when capture is off.
	DefaultTailLines = 20

	// MaxLineLength bounds a partial line; longer runs without a newline
	// are emitted as a line of their own.
	MaxLineLength = 64 * 1024
)

// Options configures a Collector.
type Options struct {
	// Capture keeps every line. Without it only the tail is kept.
	Capture bool
	// Tee receives every line as it completes.
	Tee io.Writer
	// File receives every line as well, typically a command's outputFile.
	File io.Writer
	// Prefix is prepended to lines written to Tee and File.
	Prefix string
	// OnLine is called for every completed line.
	OnLine func(line string)
	// TailLines overrides DefaultTailLines.
	TailLines int
}

// Collector multiplexes stdout and stderr of one command, with line
// buffering. Memory is bounded unless Capture is set.
type Collector struct {
	mu        sync.Mutex
	opts      Options
	lines     []string
	tail      []string
	tailStart int
	count     int

	stdout *streamWriter
	stderr *streamWriter
}

// NewCollector creates a collector.
func NewCollector(opts Options) *Collector {
	if opts.TailLines <= 0 {
		opts.TailLines = DefaultTailLines
	}
	c := &Collector{opts: opts}
	c.stdout = &streamWriter{c: c}
	c.stderr = &streamWriter{c: c}
	return c
}

// Stdout returns the writer for standard output.
func (c *Collector) Stdout() io.Writer { return c.stdout }

// Stderr returns the writer for standard error.
func (c *Collector) Stderr() io.Writer { return c.stderr }

// Flush emits any partial lines still buffered.
func (c *Collector) Flush() {
	c.stdout.flush()
	c.stderr.flush()
}

// Lines returns all captured lines, or nil when capture is off.
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.Capture {
		return nil
	}
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Tail returns the last lines seen, oldest first.
func (c *Collector) Tail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tail))
	out = append(out, c.tail[c.tailStart:]...)
	out = append(out, c.tail[:c.tailStart]...)
	return out
}

// LineCount returns the number of lines seen on both streams.
func (c *Collector) LineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Collector) emit(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	if c.opts.Capture {
		c.lines = append(c.lines, line)
	}
	if len(c.tail) < c.opts.TailLines {
		c.tail = append(c.tail, line)
	} else {
		c.tail[c.tailStart] = line
		c.tailStart = (c.tailStart + 1) % c.opts.TailLines
	}
	if c.opts.Tee != nil {
		_, _ = io.WriteString(c.opts.Tee, c.opts.Prefix+line+"\n")
	}
	if c.opts.File != nil {
		_, _ = io.WriteString(c.opts.File, c.opts.Prefix+line+"\n")
	}
	if c.opts.OnLine != nil {
		c.opts.OnLine(line)
	}
}

// streamWriter implements io.Writer with line buffering.
// Incomplete lines are buffered until a newline arrives.
type streamWriter struct {
	c   *Collector
	mu  sync.Mutex
	buf []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		w.c.emit(string(bytes.TrimSuffix(w.buf[:idx], []byte("\r"))))
		w.buf = w.buf[idx+1:]
	}
	for len(w.buf) >= MaxLineLength {
		w.c.emit(string(w.buf[:MaxLineLength]))
		w.buf = w.buf[MaxLineLength:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return n, nil
}

func (w *streamWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.c.emit(string(w.buf))
		w.buf = nil
	}
}
