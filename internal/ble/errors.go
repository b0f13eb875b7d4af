package ble

import "errors"

var (
	ErrNotificationUnsupported = errors.New("ble: characteristic does not support notifications")
	ErrTransportWrite          = errors.New("ble: transport write failed")
	ErrSinkUnavailable         = errors.New("ble: history sink unavailable")
	ErrHistoryTransferFailed   = errors.New("ble: history transfer failed")
	ErrClockSetFailed          = errors.New("ble: clock set failed")

	ErrNotConnected       = errors.New("ble: not connected")
	ErrAlreadyConnected   = errors.New("ble: already connected")
	ErrTransferInProgress = errors.New("ble: history transfer already in progress")
	ErrSessionClosed      = errors.New("ble: session closed")
	ErrDeviceNotFound     = errors.New("ble: no matching device found")
)
