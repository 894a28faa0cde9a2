package anonymize

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/google/uuid"
)

const (
	// UUIDRoot is the ISO/IEC 9834-8 arc under which a UUID written as a
	// single decimal integer is itself a valid, globally unique UID.
	UUIDRoot = "2.25"

	maxUIDLength = 64
)

// UIDGenerator hands out new UIDs below Root.
type UIDGenerator struct {
	Root string
}

// NewUIDGenerator validates root and returns a generator. An empty root
// selects UUIDRoot.
func NewUIDGenerator(root string) (*UIDGenerator, error) {
	if root == "" {
		root = UUIDRoot
	}
	root = strings.TrimSuffix(root, ".")

	if err := ValidateUIDRoot(root); err != nil {
		return nil, err
	}

	return &UIDGenerator{Root: root}, nil
}

// New returns a fresh UID. The random suffix is shortened when a long root
// would otherwise push the UID past 64 characters.
func (g *UIDGenerator) New() string {
	id := uuid.New()
	suffix := new(big.Int).SetBytes(id[:]).String()

	if room := maxUIDLength - len(g.Root) - 1; len(suffix) > room {
		suffix = suffix[:room]
	}

	return g.Root + "." + suffix
}

// ValidateUIDRoot checks that root is made of dot separated numeric
// components without leading zeros and leaves room for a suffix.
func ValidateUIDRoot(root string) error {
	if len(root) > maxUIDLength-17 {
		return pfx.Err(fmt.Errorf("uid root %q is too long to leave room for a unique suffix", root))
	}

	for _, component := range strings.Split(root, ".") {
		if component == "" {
			return pfx.Err(fmt.Errorf("uid root %q has an empty component", root))
		}
		if len(component) > 1 && component[0] == '0' {
			return pfx.Err(fmt.Errorf("uid root %q has a component with a leading zero", root))
		}
		for _, r := range component {
			if r < '0' || r > '9' {
				return pfx.Err(fmt.Errorf("uid root %q contains non-numeric character %q", root, r))
			}
		}
	}

	return nil
}
