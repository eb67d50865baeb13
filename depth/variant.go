package depth

import (
	"fmt"
	"sort"
)

const (
	// NativeSize is the training resolution of Depth Anything v2.
	NativeSize = 518
	// PatchSize is the ViT patch stride; dynamic inputs must be a multiple of it.
	PatchSize = 14
)

// Variant describes one supported model export.
type Variant struct {
	Name       string
	ModelFile  string
	TargetSize int
	Policy     ResizePolicy
}

var variants = map[string]Variant{
	"static": {
		Name:       "static",
		ModelFile:  "depth_anything_v2_vitb.onnx",
		TargetSize: NativeSize,
		Policy:     StaticSquash{Size: NativeSize},
	},
	"dynamic": {
		Name:       "dynamic",
		ModelFile:  "depth_anything_v2_vitb_dynamic.onnx",
		TargetSize: NativeSize,
		Policy:     AspectFit{Size: NativeSize, MultipleOf: PatchSize},
	},
}

// VariantFor resolves a model type name ("static" or "dynamic").
func VariantFor(name string) (Variant, error) {
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownVariant, name, VariantNames())
	}
	return v, nil
}

func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
