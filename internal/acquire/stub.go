//go:build !linux

package acquire

import "errors"

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chipName string, primaryPin, secondaryPin int, cams []CamPin) (*RealSource, error) {
	return nil, errors.New("acquire: not supported on this platform (requires Linux)")
}

// Events is not implemented on non-Linux platforms.
func (s *RealSource) Events() <-chan Event {
	return nil
}

// Dropped is not implemented on non-Linux platforms.
func (s *RealSource) Dropped() uint64 {
	return 0
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}
