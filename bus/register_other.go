//go:build !linux

package bus

import "fobreader/address"

// OpenRegister is not supported on this platform.
func OpenRegister(cfg Config, addr address.Address) (*Register, error) {
	return nil, ErrNotSupported
}
