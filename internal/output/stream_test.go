package output

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_LineBuffering(t *testing.T) {
	var tee bytes.Buffer
	c := NewCollector(Options{Capture: true, Tee: &tee})

	w := c.Stdout()
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Empty(t, tee.String())

	_, err = w.Write([]byte("world\r\nsecond\npartial"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond\n", tee.String())
	assert.Equal(t, []string{"hello world", "second"}, c.Lines())

	c.Flush()
	assert.Equal(t, []string{"hello world", "second", "partial"}, c.Lines())
	assert.Equal(t, 3, c.LineCount())
}

func TestCollector_FileAndPrefix(t *testing.T) {
	var tee, file bytes.Buffer
	c := NewCollector(Options{Tee: &tee, File: &file, Prefix: "[db1] "})

	fmt.Fprint(c.Stdout(), "dumped\n")
	fmt.Fprint(c.Stderr(), "warning: slow\n")

	assert.Equal(t, "[db1] dumped\n[db1] warning: slow\n", file.String())
	assert.Equal(t, file.String(), tee.String())
	assert.Equal(t, []string{"dumped", "warning: slow"}, c.Tail(), "the prefix only applies to copies")
}

func TestCollector_StdoutAndStderrKeepTheirOwnPartials(t *testing.T) {
	c := NewCollector(Options{Capture: true})

	_, _ = c.Stdout().Write([]byte("out-"))
	_, _ = c.Stderr().Write([]byte("err\n"))
	_, _ = c.Stdout().Write([]byte("line\n"))

	assert.Equal(t, []string{"err", "out-line"}, c.Lines())
}

func TestCollector_NoCaptureKeepsTail(t *testing.T) {
	c := NewCollector(Options{TailLines: 3})

	for i := 1; i <= 10; i++ {
		fmt.Fprintf(c.Stdout(), "line %d\n", i)
	}

	assert.Nil(t, c.Lines())
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, c.Tail())
	assert.Equal(t, 10, c.LineCount())
}

func TestCollector_TailBeforeWrap(t *testing.T) {
	c := NewCollector(Options{})
	fmt.Fprint(c.Stderr(), "a\nb\n")
	assert.Equal(t, []string{"a", "b"}, c.Tail())
}

func TestCollector_LongLineIsSplit(t *testing.T) {
	c := NewCollector(Options{Capture: true})

	long := strings.Repeat("x", MaxLineLength+10)
	_, err := c.Stdout().Write([]byte(long))
	require.NoError(t, err)
	c.Flush()

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], MaxLineLength)
	assert.Len(t, lines[1], 10)
}

func TestCollector_OnLine(t *testing.T) {
	var got []string
	c := NewCollector(Options{OnLine: func(l string) { got = append(got, l) }})

	fmt.Fprint(c.Stdout(), "one\ntwo\n")
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestCollector_ConcurrentWriters(t *testing.T) {
	c := NewCollector(Options{Capture: true})

	var wg sync.WaitGroup
	for _, w := range []interface{ Write([]byte) (int, error) }{c.Stdout(), c.Stderr()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, c.LineCount())
	assert.Len(t, c.Lines(), 200)
}
