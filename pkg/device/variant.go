package device

import (
	"fmt"
	"strings"
)

type Variant int

const (
	VariantNone Variant = iota
	VariantWalkC2
	VariantWalkC2Core
	VariantWalkC
	VariantLocoS
	VariantLoco
)

// DetectionOrder is the order variants are probed in; the first hit wins.
var DetectionOrder = []Variant{
	VariantWalkC2,
	VariantWalkC2Core,
	VariantWalkC,
	VariantLocoS,
	VariantLoco,
}

var variantNames = map[Variant]string{
	VariantNone:       "none",
	VariantWalkC2:     "walk_c2",
	VariantWalkC2Core: "walk_c2_core",
	VariantWalkC:      "walk_c",
	VariantLocoS:      "loco_s",
	VariantLoco:       "loco",
}

func (v Variant) String() string {
	if s, ok := variantNames[v]; ok {
		return s
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// RequiresCalibration reports whether SysConfig carries a calibration record
// this variant consumes. Only the original Walk C does.
func (v Variant) RequiresCalibration() bool {
	return v == VariantWalkC
}

func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, name := range variantNames {
		if name == s {
			return v, nil
		}
	}
	return VariantNone, fmt.Errorf("unknown device variant %q", s)
}

// Detect probes p in DetectionOrder and returns the first connected variant.
func Detect(p StatusProvider) (Variant, bool) {
	for _, v := range DetectionOrder {
		if p.Connected(v) {
			return v, true
		}
	}
	return VariantNone, false
}
