package domain

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
)

// ResourceKind is a token id on the multi-token ledger.
type ResourceKind uint8

const (
	ResourceUnspecified ResourceKind = 0
	ResourceWood        ResourceKind = 1
	ResourceClay        ResourceKind = 2
	ResourceSheep       ResourceKind = 3
	ResourceWheat       ResourceKind = 4
	ResourceOre         ResourceKind = 5
)

var resourceNames = map[ResourceKind]string{
	ResourceWood:  "WOOD",
	ResourceClay:  "CLAY",
	ResourceSheep: "SHEEP",
	ResourceWheat: "WHEAT",
	ResourceOre:   "ORE",
}

// Names used by the game client on the wire before the bridge standardised on
// English labels.
var resourceAliases = map[string]ResourceKind{
	"MADERA":   ResourceWood,
	"ARCILLA":  ResourceClay,
	"LADRILLO": ResourceClay,
	"OVEJA":    ResourceSheep,
	"LANA":     ResourceSheep,
	"TRIGO":    ResourceWheat,
	"MINERAL":  ResourceOre,
}

// AllResourceKinds lists every kind in token id order.
func AllResourceKinds() []ResourceKind {
	return []ResourceKind{ResourceWood, ResourceClay, ResourceSheep, ResourceWheat, ResourceOre}
}

// Valid reports whether k belongs to the closed resource set.
func (k ResourceKind) Valid() bool {
	_, ok := resourceNames[k]
	return ok
}

// ID returns the ledger token id.
func (k ResourceKind) ID() int64 {
	return int64(k)
}

func (k ResourceKind) String() string {
	if name, ok := resourceNames[k]; ok {
		return name
	}
	return "RESOURCE(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText encodes the canonical name so kinds work as JSON map keys.
func (k ResourceKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown resource kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts any form understood by ParseResourceKind.
func (k *ResourceKind) UnmarshalText(text []byte) error {
	kind, err := ParseResourceKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ResourceKindFromID maps a token id to its kind.
func ResourceKindFromID(id int64) (ResourceKind, error) {
	if id < 1 || id > int64(ResourceOre) {
		return ResourceUnspecified, apperrors.WithMetadata(
			apperrors.CodeInvalidRequest,
			fmt.Sprintf("unknown resource id %d", id),
			map[string]string{"resource_id": strconv.FormatInt(id, 10)},
		)
	}
	return ResourceKind(id), nil
}

// ParseResourceKind accepts a canonical name, a legacy alias, or a numeric
// token id. Matching is case-insensitive.
func ParseResourceKind(value string) (ResourceKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return ResourceUnspecified, apperrors.New(apperrors.CodeInvalidRequest, "resource is required")
	}
	if id, err := strconv.ParseInt(normalized, 10, 64); err == nil {
		return ResourceKindFromID(id)
	}
	for kind, name := range resourceNames {
		if name == normalized {
			return kind, nil
		}
	}
	if kind, ok := resourceAliases[normalized]; ok {
		return kind, nil
	}
	return ResourceUnspecified, apperrors.WithMetadata(
		apperrors.CodeInvalidRequest,
		fmt.Sprintf("unknown resource %q", value),
		map[string]string{"resource": value},
	)
}

// ResourceQuantity is an amount of a single kind.
type ResourceQuantity struct {
	Kind   ResourceKind `json:"kind"`
	Amount uint64       `json:"amount"`
}

// Balances maps every kind to an amount. Absent kinds read as zero.
type Balances map[ResourceKind]uint64

// ZeroBalances returns a mapping with every kind present at zero.
func ZeroBalances() Balances {
	out := make(Balances, len(resourceNames))
	for _, kind := range AllResourceKinds() {
		out[kind] = 0
	}
	return out
}
