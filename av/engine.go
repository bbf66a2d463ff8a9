package av

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// validateInfo classifies stream validation failures into engine errors.
func validateInfo(info *stream.Info) error {
	if err := info.Validate(); err != nil {
		if errors.Is(err, stream.ErrUnsupportedFormat) {
			return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidStream, err)
	}
	return nil
}

// destroyStream closes an offload stream, retrying while it reports ErrBusy,
// then makes one final attempt whose failure is logged and returned.
func destroyStream(function, name string, c interface{ Close() error }, retries int) error {
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if err = c.Close(); !errors.Is(err, interfaces.ErrBusy) {
			break
		}
		time.Sleep(teardownRetryDelay)
	}
	if errors.Is(err, interfaces.ErrBusy) {
		err = c.Close()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"stream":   name,
			"retries":  retries,
			"error":    err.Error(),
		}).Error("Failed to destroy offload stream")
		return fmt.Errorf("%w: destroy %s: %w", ErrOffload, name, err)
	}
	return nil
}

// raisePriority locks the calling goroutine's thread to realtime scheduling
// when requested. Failure is logged, not fatal.
func raisePriority(function, name string, priority int) {
	if priority <= 0 {
		return
	}
	if err := clock.SetRealtimePriority(priority); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"stream":   name,
			"priority": priority,
			"error":    err.Error(),
		}).Warn("Running without realtime priority")
	}
}
