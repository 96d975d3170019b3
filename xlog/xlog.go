// Package xlog wraps glog the way the teacher's cmn/nlog wraps 3rdparty/glog:
// leveled helpers plus a verbosity gate so hot paths can skip formatting
// work entirely when nobody is listening.
package xlog

import (
	"flag"

	"github.com/golang/glog"
)

// Level mirrors glog.Level; kept as its own type so callers don't need to
// import glog directly just to call V().
type Level = glog.Level

// SetV adjusts the glog -v flag at runtime; cmd/cuckoo-node calls it once at
// startup with level 0.
func SetV(v Level) {
	f := flag.Lookup("v")
	if f == nil {
		return
	}
	_ = f.Value.Set(verbosityString(v))
}

func verbosityString(v Level) string {
	// glog.Level is an int32; format without pulling in fmt on the hot path.
	if v < 0 {
		v = 0
	}
	digits := [3]byte{}
	n := 0
	for v > 0 || n == 0 {
		digits[n] = byte('0' + v%10)
		v /= 10
		n++
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = digits[n-1-i]
	}
	return string(out)
}

func V(level Level) glog.Verbose { return glog.V(level) }

func Infof(format string, args ...any)    { glog.Infof(format, args...) }
func Infoln(args ...any)                  { glog.Infoln(args...) }
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }
func Warningln(args ...any)               { glog.Warningln(args...) }
func Errorf(format string, args ...any)   { glog.Errorf(format, args...) }
func Errorln(args ...any)                 { glog.Errorln(args...) }
func Fatalf(format string, args ...any)   { glog.Fatalf(format, args...) }

// Flush flushes any pending log I/O; call before process exit.
func Flush() { glog.Flush() }
