package ble

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// DefaultPrefix is the advertised name prefix of Braccio arm controllers.
const DefaultPrefix = "ADA"

// Device is an arm seen during a scan.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int16  `json:"rssi"`
}

// Scan listens for advertisements for the given duration and returns the
// devices whose local name starts with prefix, strongest signal first.
func Scan(ctx context.Context, prefix string, timeout time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := newCollector(prefix)
	err := defaultRadio.scan(ctx, func(result bluetooth.ScanResult) bool {
		c.add(result.LocalName(), result.Address.String(), result.RSSI)
		return true
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return c.devices(), err
	}
	return c.devices(), nil
}

// collector dedupes advertisements by address, keeping the latest name and
// signal strength.
type collector struct {
	prefix string

	mu   sync.Mutex
	seen map[string]Device
}

func newCollector(prefix string) *collector {
	return &collector{prefix: prefix, seen: make(map[string]Device)}
}

func (c *collector) add(name, address string, rssi int16) bool {
	if !strings.HasPrefix(name, c.prefix) {
		return false
	}
	address = normalize(address)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[address] = Device{Name: name, Address: address, RSSI: rssi}
	return true
}

func (c *collector) devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Device, 0, len(c.seen))
	for _, d := range c.seen {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Device) int {
		if a.RSSI != b.RSSI {
			return cmp.Compare(b.RSSI, a.RSSI)
		}
		return cmp.Compare(a.Address, b.Address)
	})
	return out
}
