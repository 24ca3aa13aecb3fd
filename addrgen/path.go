package addrgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrHardenedPath is returned when a derivation path contains a
	// hardened element. Hardened children can't be derived from an
	// extended public key.
	ErrHardenedPath = errors.New("hardened derivation requires a " +
		"private key")

	// ErrInvalidPath is returned when a derivation path can't be parsed.
	ErrInvalidPath = errors.New("invalid derivation path")
)

// Path is a sequence of non-hardened BIP-32 child indexes relative to the
// configured extended public key.
type Path []uint32

// String returns the path in its canonical "m/a/b" form.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range p {
		fmt.Fprintf(&b, "/%d", index)
	}

	return b.String()
}

// ParsePath parses a derivation path such as "m/0", "m/0/1" or "0/1". The
// leading "m" is optional, and "m" alone denotes the key itself.
func ParsePath(path string) (Path, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	elems := strings.Split(path, "/")
	if elems[0] == "m" || elems[0] == "M" {
		elems = elems[1:]
	}

	parsed := make(Path, 0, len(elems))
	for _, elem := range elems {
		if elem == "" {
			return nil, fmt.Errorf("%w: empty element in %q",
				ErrInvalidPath, path)
		}

		if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") ||
			strings.HasSuffix(elem, "H") {

			return nil, fmt.Errorf("%w: %q", ErrHardenedPath, path)
		}

		index, err := strconv.ParseUint(elem, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath,
				path, err)
		}

		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %q", ErrHardenedPath, path)
		}

		parsed = append(parsed, uint32(index))
	}

	return parsed, nil
}
