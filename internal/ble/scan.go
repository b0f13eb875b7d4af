package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ScanForDevices scans for straps advertising a name with namePrefix and
// returns them strongest signal first.
func ScanForDevices(ctx context.Context, adapter Adapter, namePrefix string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	if namePrefix == "" {
		namePrefix = DefaultNamePrefix
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, namePrefix)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	return devices, nil
}
