package meshbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// deviceFactory creates the default ble.Device. Overridable in tests that
// exercise normalizeUUID/matching without a real adapter present.
var deviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

var scanFunc = ble.Scan
var dialFunc = ble.Dial

// normalizeUUID strips dashes and lowercases a UUID string so 16-bit,
// 32-bit, and 128-bit forms reported by the radio library compare equal to
// the configuration value.
func normalizeUUID(u string) string {
	return strings.ToLower(strings.ReplaceAll(u, "-", ""))
}

// BLEDialer is the production Dialer backed by go-ble/ble.
type BLEDialer struct {
	dev ble.Device
}

// NewBLEDialer returns a Dialer that drives the host's Bluetooth adapter
// through go-ble/ble. On Linux this resolves to the HCI socket device.
func NewBLEDialer() *BLEDialer {
	return &BLEDialer{}
}

func (d *BLEDialer) ensureDevice() error {
	if d.dev != nil {
		return nil
	}
	dev, err := deviceFactory()
	if err != nil {
		return fmt.Errorf("meshbridge: open adapter: %w", err)
	}
	ble.SetDefaultDevice(dev)
	d.dev = dev
	return nil
}

// Scan implements Dialer.
func (d *BLEDialer) Scan(ctx context.Context, timeout time.Duration, namePrefixes []string, serviceUUID, targetAddress string) ([]ScanResult, error) {
	if err := d.ensureDevice(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wantService := normalizeUUID(serviceUUID)
	var results []ScanResult

	err := scanFunc(scanCtx, true, func(a ble.Advertisement) {
		addr := a.Addr().String()
		if targetAddress != "" {
			if strings.EqualFold(addr, targetAddress) {
				results = append(results, ScanResult{Address: addr, Name: a.LocalName()})
			}
			return
		}

		if matchesName(a.LocalName(), namePrefixes) || matchesService(a.Services(), wantService) {
			results = append(results, ScanResult{Address: addr, Name: a.LocalName()})
		}
	}, nil)

	if err == context.DeadlineExceeded || err == context.Canceled {
		return results, nil
	}
	return results, err
}

func matchesName(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func matchesService(services []ble.UUID, want string) bool {
	if want == "" {
		return false
	}
	for _, s := range services {
		if normalizeUUID(s.String()) == want {
			return true
		}
	}
	return false
}

// Dial implements Dialer.
func (d *BLEDialer) Dial(ctx context.Context, addr string) (Session, error) {
	if err := d.ensureDevice(); err != nil {
		return nil, err
	}

	client, err := dialFunc(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("meshbridge: dial: %w", err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("meshbridge: discover profile: %w", err)
	}

	var writeChar, notifyChar *ble.Characteristic
	wantService := normalizeUUID(serviceUUID)
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != wantService {
			continue
		}
		for _, c := range svc.Characteristics {
			switch normalizeUUID(c.UUID.String()) {
			case normalizeUUID(writeCharUUID):
				writeChar = c
			case normalizeUUID(notifyCharUUID):
				notifyChar = c
			}
		}
	}
	if writeChar == nil || notifyChar == nil {
		client.CancelConnection()
		return nil, fmt.Errorf("meshbridge: %s did not advertise the expected radio service", addr)
	}

	if _, err := client.ExchangeMTU(512); err != nil {
		// Non-fatal: proceed with the connection's default MTU.
	}

	return &bleSession{client: client, writeChar: writeChar, notifyChar: notifyChar}, nil
}

// The core radio service and its two characteristics (spec §6).
const (
	serviceUUID    = "0000dc01-0000-1000-8000-00805f9b34fb"
	notifyCharUUID = "0000dc02-0000-1000-8000-00805f9b34fb"
	writeCharUUID  = "0000dc03-0000-1000-8000-00805f9b34fb"
)

// bleSession implements Session against a live go-ble/ble client.
type bleSession struct {
	client     ble.Client
	writeChar  *ble.Characteristic
	notifyChar *ble.Characteristic
}

func (s *bleSession) Notify(handler func(data []byte)) error {
	return s.client.Subscribe(s.notifyChar, false, func(req []byte) {
		handler(req)
	})
}

func (s *bleSession) WriteCommand(_ context.Context, cmd []byte) error {
	return s.client.WriteCharacteristic(s.writeChar, cmd, false)
}

func (s *bleSession) Close() error {
	return s.client.CancelConnection()
}
