package log2

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fun  func(t testing.TB, l *Log) string
	}{
		{"caller/debug", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Debugf("low level var=%d", 42)
			return formatCallerShort(1) + "debug: low level var=42\n"
		}},
		{"caller/info", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Infof("regular state=%s", "ok")
			return formatCallerShort(1) + "regular state=ok\n"
		}},
		{"caller/error", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Errorf("problem")
			return formatCallerShort(1) + "error: problem\n"
		}},
		{"named", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			n := l.Named("broker").Named("local")
			n.Infof("connected")
			l.Infof("root")
			return "broker: local: connected\nroot\n"
		}},
		{"level", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.SetLevel(LInfo)
			l.Debugf("hidden")
			l.Info("shown")
			assert.False(t, l.Enabled(LDebug))
			l.SetLevel(LDebug)
			l.Debug("now")
			return "shown\ndebug: now\n"
		}},
		{"paho", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.SetLevel(LInfo)
			l.AsPaho(LDebug).Println("[net] ping")
			l.AsPaho(LError).Printf("[client] %s", "lost")
			return "mqtt: [client] lost\n"
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			c.fun(t, nil)
		})
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, LAll)
			expect := c.fun(t, l)
			assert.Equal(t, expect, buf.String())
		})
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	l := NewWriter(io.Discard, LAll)
	assert.Nil(t, l)
	assert.False(t, l.Enabled(LError))
	l.Errorf("nowhere")
	assert.Nil(t, l.Clone(LDebug))
}

func TestFatalTest(t *testing.T) {
	t.Parallel()
	var got string
	l := NewFunc(func(format string, args ...interface{}) {}, LAll)
	l.fatalf = func(format string, args ...interface{}) { got = fmt.Sprintf(format, args...) }
	l.Fatalf("config err=%v", "syntax")
	assert.Equal(t, "config err=syntax", got)
	c := l.Clone(LError)
	c.Fatal("clone keeps fatal")
	assert.Equal(t, "clone keeps fatal", got)
}

type fmtFunc = func(format string, args ...interface{})

func BenchmarkLog2(b *testing.B) {
	call := func(f fmtFunc) { f("example log with arg1=%s and arg2=%d", "example-arg", 12345678) }
	const expect string = "example log with arg1=example-arg and arg2=12345678\n"

	prepareStd := func(w io.Writer) fmtFunc { return log.New(w, "", 0).Printf }
	prepareMe := func(w io.Writer) fmtFunc { l := NewWriter(w, LInfo); l.SetFlags(0); return l.Infof }
	prepareMeSkipLevel := func(w io.Writer) fmtFunc { l := NewWriter(w, LError); l.SetFlags(0); return l.Infof }

	type Case struct {
		name    string
		prepare func(w io.Writer) fmtFunc
	}
	cases := []Case{
		{"me-skiplevel", prepareMeSkipLevel},
		{"me", prepareMe},
		{"stdlib", prepareStd},
	}
	for _, c := range cases {
		buf := bytes.NewBuffer(nil)
		fun := c.prepare(buf)
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			result := benchCapture(call)
			require.Equal(b, expect, result)
			buf.Grow(len(result) * b.N)
			buf.Reset()

			b.SetBytes(int64(len(result)))
			b.ResetTimer()
			for i := 1; i <= b.N; i++ {
				call(fun)
			}
			b.StopTimer()

			if b.N == 1 && !strings.Contains(c.name, "skip") {
				assert.Equal(b, expect, buf.String())
			}
		})
	}
}

func benchCapture(call func(fmtFunc)) string {
	s := ""
	call(func(format string, args ...interface{}) {
		s = fmt.Sprintf(format+"\n", args...)
	})
	return s
}

func callerShort(depth int) (file string, line int) {
	var ok bool
	_, file, line, ok = runtime.Caller(depth)
	if !ok {
		file = "???"
		line = 0
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return
}

func formatCallerShort(depth int) string {
	file, line := callerShort(depth + 1)
	return fmt.Sprintf("%s:%d: ", file, line-1)
}
