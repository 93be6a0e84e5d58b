package stream

import "strconv"

func sessionID(nowMs int64, counter uint64) string {
	return "sess-" + strconv.FormatInt(nowMs, 10) + "-" + strconv.FormatUint(counter, 10)
}
