package router

import (
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"
)

var reqCounter atomic.Uint64

// requestID returns the id attached to every log line of one command, built
// from the clock and a process-wide counter in base36.
func requestID() string {
	b := make([]byte, 0, 24)
	b = strconv.AppendInt(b, time.Now().UnixMilli(), 36)
	b = append(b, '-')
	b = strconv.AppendUint(b, reqCounter.Add(1), 36)
	return string(append(b, byte('a'+rand.IntN(26)), byte('a'+rand.IntN(26))))
}
