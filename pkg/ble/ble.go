// Package ble links to a Braccio arm over Bluetooth Low Energy.
//
// The arm exposes the Nordic UART service: frames are written to the RX
// characteristic without response and status codes arrive as notifications
// on the TX characteristic.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// Nordic UART service and characteristics.
var (
	ServiceUUID = mustParseUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	WriteUUID   = mustParseUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")
	NotifyUUID  = mustParseUUID("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
)

var (
	ErrNotConnected   = errors.New("ble: not connected")
	ErrNotFound       = errors.New("ble: device not found")
	ErrMissingUART    = errors.New("ble: device does not expose the UART service")
	ErrScanInProgress = errors.New("ble: scan already in progress")
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// radio is the shared host adapter. The adapter supports one scan at a
// time and a single connect handler, so both are multiplexed here.
type radio struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	scanMu sync.Mutex

	mu    sync.Mutex
	links map[string]*Transport
}

var defaultRadio = &radio{
	adapter: bluetooth.DefaultAdapter,
	links:   make(map[string]*Transport),
}

func (r *radio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = fmt.Errorf("enable adapter: %w", err)
			return
		}
		r.adapter.SetConnectHandler(r.onConnectChange)
	})
	return r.enableErr
}

func (r *radio) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	r.mu.Lock()
	t := r.links[normalize(device.Address.String())]
	r.mu.Unlock()

	if t != nil {
		t.lost()
	}
}

func (r *radio) register(t *Transport) {
	r.mu.Lock()
	r.links[t.address] = t
	r.mu.Unlock()
}

func (r *radio) unregister(t *Transport) {
	r.mu.Lock()
	if r.links[t.address] == t {
		delete(r.links, t.address)
	}
	r.mu.Unlock()
}

// scan runs the adapter scan until ctx is done or fn returns false.
func (r *radio) scan(ctx context.Context, fn func(bluetooth.ScanResult) bool) error {
	if err := r.enable(); err != nil {
		return err
	}
	if !r.scanMu.TryLock() {
		return ErrScanInProgress
	}
	defer r.scanMu.Unlock()

	errc := make(chan error, 1)
	go func() {
		errc <- r.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !fn(result) {
				a.StopScan()
			}
		})
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		r.adapter.StopScan()
		<-errc
		return ctx.Err()
	}
}

func normalize(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Transport is a BLE link to one arm, addressed by its MAC (or, on macOS,
// its platform UUID).
type Transport struct {
	address string
	radio   *radio
	logger  *slog.Logger

	mu     sync.Mutex
	device bluetooth.Device
	tx     bluetooth.DeviceCharacteristic

	connected atomic.Bool
}

// NewTransport returns an unconnected link to address.
func NewTransport(address string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		address: normalize(address),
		radio:   defaultRadio,
		logger:  logger.With("transport", "ble"),
	}
}

// Address returns the peer address.
func (t *Transport) Address() string {
	return t.address
}

// Connect finds the peer, connects, and subscribes to status notifications.
func (t *Transport) Connect(ctx context.Context, onStatus func([]byte)) error {
	addr, err := t.resolve(ctx)
	if err != nil {
		return err
	}

	device, err := t.radio.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	tx, rx, err := discoverUART(device)
	if err != nil {
		device.Disconnect()
		return err
	}

	if err := rx.EnableNotifications(func(data []byte) {
		// the stack reuses its buffer
		onStatus(append([]byte(nil), data...))
	}); err != nil {
		device.Disconnect()
		return fmt.Errorf("enable notifications: %w", err)
	}

	t.mu.Lock()
	t.device = device
	t.tx = tx
	t.mu.Unlock()

	t.radio.register(t)
	t.connected.Store(true)
	t.logger.Debug("ble link up", "address", t.address)
	return nil
}

// resolve scans until the peer advertises.
func (t *Transport) resolve(ctx context.Context) (bluetooth.Address, error) {
	var (
		found bluetooth.Address
		ok    bool
	)
	err := t.radio.scan(ctx, func(result bluetooth.ScanResult) bool {
		if normalize(result.Address.String()) == t.address {
			found, ok = result.Address, true
			return false
		}
		return true
	})
	if ok {
		return found, nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return found, fmt.Errorf("scan: %w", err)
	}
	return found, fmt.Errorf("%w: %s", ErrNotFound, t.address)
}

func discoverUART(device bluetooth.Device) (tx, rx bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil {
		return tx, rx, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return tx, rx, ErrMissingUART
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{WriteUUID, NotifyUUID})
	if err != nil {
		return tx, rx, fmt.Errorf("discover characteristics: %w", err)
	}

	var haveTx, haveRx bool
	for _, c := range chars {
		switch c.UUID() {
		case WriteUUID:
			tx, haveTx = c, true
		case NotifyUUID:
			rx, haveRx = c, true
		}
	}
	if !haveTx || !haveRx {
		return tx, rx, ErrMissingUART
	}
	return tx, rx, nil
}

// Write sends one chunk to the UART write characteristic.
func (t *Transport) Write(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.connected.Load() {
		return ErrNotConnected
	}

	t.mu.Lock()
	tx := t.tx
	t.mu.Unlock()

	if _, err := tx.WriteWithoutResponse(chunk); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Disconnect closes the link.
func (t *Transport) Disconnect() error {
	t.radio.unregister(t)
	if !t.connected.Swap(false) {
		return nil
	}

	t.mu.Lock()
	device := t.device
	t.device = bluetooth.Device{}
	t.mu.Unlock()

	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (t *Transport) lost() {
	if t.connected.Swap(false) {
		t.logger.Warn("ble link dropped", "address", t.address)
	}
}
