//go:build !linux

package assembler

func exchange(_, _ string) error {
	return errExchangeUnsupported
}
