// Package nlog provides the client's leveled logger: timestamped,
// depth-aware, and written line by line, synchronously, to an underlying
// file.
package nlog

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevTag = [...]string{sevInfo: "I", sevWarn: "W", sevErr: "E"}

var (
	mw        sync.Mutex
	out       *os.File = os.Stderr
	toDiscard bool
)

// SetOutput redirects all subsequent log lines; passing nil discards them.
func SetOutput(w *os.File) {
	mw.Lock()
	defer mw.Unlock()
	toDiscard = w == nil
	if w != nil {
		out = w
	}
}

func log(sev severity, depth int, format string, args ...any) {
	mw.Lock()
	defer mw.Unlock()
	if toDiscard {
		return
	}
	var msg string
	if format == "" {
		msg = fmt.Sprint(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
	}
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		file, line = "???", 0
	} else if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	fmt.Fprintf(out, "%s %s %s:%s] %s\n",
		sevTag[sev], time.Now().Format("15:04:05.000000"), file, strconv.Itoa(line), strings.TrimSuffix(msg, "\n"))
}
