package listener

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// publishWindow is how long after our own publish a timeout is treated as noise.
const publishWindow = time.Second

var (
	timeoutMarkers = []string{"timeout", "timed out", "etimedout", "pingresp"}
	benignMarkers  = []string{"invalid header flag bits", "puback"}
)

// transient reports whether err can be ignored without a state change.
func transient(err error, sincePublish time.Duration) bool {
	if err == nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range benignMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return sincePublish >= 0 && sincePublish <= publishWindow && isTimeout(err, msg)
}

func isTimeout(err error, msg string) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, m := range timeoutMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
