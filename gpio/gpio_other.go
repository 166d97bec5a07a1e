//go:build !linux

package gpio

func open(cfg Config) (Opener, error) {
	return nil, ErrNotSupported
}
