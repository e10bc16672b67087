//go:build !linux

package netmon

import "time"

func platformNotifier() Notifier {
	return NewPollingNotifier(5*time.Second, nil, nil)
}
