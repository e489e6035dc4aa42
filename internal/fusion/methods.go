package fusion

import (
	"maps"
	"strings"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// Kind names a fusable module type.
type Kind string

// Module kinds.
const (
	KindConv2D          Kind = "conv2d"
	KindConvTranspose2D Kind = "convtranspose2d"
	KindBatchNorm2D     Kind = "batchnorm2d"
	KindBatchNorm1D     Kind = "batchnorm1d"
	KindLinear          Kind = "linear"
	KindReLU            Kind = "relu"
)

// Kinded is implemented by module types defined outside this package that
// take part in pattern matching. Their kinds can then be used in the
// patterns of an extra lookup table.
type Kinded interface {
	FusionKind() Kind
}

// KindOf returns the kind of m, if it is fusable.
func KindOf[B tensor.Backend](m nn.Module[B]) (Kind, bool) {
	if k, ok := m.(Kinded); ok {
		return k.FusionKind(), true
	}
	switch m.(type) {
	case *nn.Conv2D[B]:
		return KindConv2D, true
	case *nn.ConvTranspose2D[B]:
		return KindConvTranspose2D, true
	case *nn.BatchNorm2D[B]:
		return KindBatchNorm2D, true
	case *nn.BatchNorm1D[B]:
		return KindBatchNorm1D, true
	case *nn.Linear[B]:
		return KindLinear, true
	case *nn.ReLU[B]:
		return KindReLU, true
	}
	return "", false
}

// Pattern is an ordered sequence of module kinds, written "conv2d+relu".
type Pattern string

// PatternOf joins kinds into a Pattern.
func PatternOf(kinds ...Kind) Pattern {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return Pattern(strings.Join(parts, "+"))
}

// Len returns the number of kinds in p.
func (p Pattern) Len() int {
	if p == "" {
		return 0
	}
	return strings.Count(string(p), "+") + 1
}

// Well-known patterns.
var (
	PatternConvBN              = PatternOf(KindConv2D, KindBatchNorm2D)
	PatternConvBNReLU          = PatternOf(KindConv2D, KindBatchNorm2D, KindReLU)
	PatternConvReLU            = PatternOf(KindConv2D, KindReLU)
	PatternConvTransposeBN     = PatternOf(KindConvTranspose2D, KindBatchNorm2D)
	PatternConvTransposeBNReLU = PatternOf(KindConvTranspose2D, KindBatchNorm2D, KindReLU)
	PatternConvTransposeReLU   = PatternOf(KindConvTranspose2D, KindReLU)
	PatternLinearBN            = PatternOf(KindLinear, KindBatchNorm1D)
	PatternLinearReLU          = PatternOf(KindLinear, KindReLU)
)

// FuserMethod fuses the modules matching a pattern into one module.
type FuserMethod[B tensor.Backend] func(modules []nn.Module[B]) (nn.Module[B], error)

// DefaultFuserMethods returns a fresh copy of the built-in lookup table.
func DefaultFuserMethods[B tensor.Backend]() map[Pattern]FuserMethod[B] {
	return map[Pattern]FuserMethod[B]{
		PatternConvBN: func(ms []nn.Module[B]) (nn.Module[B], error) {
			conv, bn, err := two[B, *nn.Conv2D[B], *nn.BatchNorm2D[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseConvBN(conv, bn)
		},
		PatternConvBNReLU: func(ms []nn.Module[B]) (nn.Module[B], error) {
			if len(ms) != 3 {
				return nil, errors.Wrapf(ErrUnexpectedModule, "expected 3 modules, got %d", len(ms))
			}
			conv, bn, err := two[B, *nn.Conv2D[B], *nn.BatchNorm2D[B]](ms[:2])
			if err != nil {
				return nil, err
			}
			relu, ok := ms[2].(*nn.ReLU[B])
			if !ok {
				return nil, errors.Wrapf(ErrUnexpectedModule, "%T", ms[2])
			}
			return FuseConvBNReLU(conv, bn, relu)
		},
		PatternConvReLU: func(ms []nn.Module[B]) (nn.Module[B], error) {
			conv, relu, err := two[B, *nn.Conv2D[B], *nn.ReLU[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseConvReLU(conv, relu)
		},
		PatternConvTransposeBN: func(ms []nn.Module[B]) (nn.Module[B], error) {
			conv, bn, err := two[B, *nn.ConvTranspose2D[B], *nn.BatchNorm2D[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseConvTransposeBN(conv, bn)
		},
		PatternConvTransposeBNReLU: func(ms []nn.Module[B]) (nn.Module[B], error) {
			if len(ms) != 3 {
				return nil, errors.Wrapf(ErrUnexpectedModule, "expected 3 modules, got %d", len(ms))
			}
			conv, bn, err := two[B, *nn.ConvTranspose2D[B], *nn.BatchNorm2D[B]](ms[:2])
			if err != nil {
				return nil, err
			}
			relu, ok := ms[2].(*nn.ReLU[B])
			if !ok {
				return nil, errors.Wrapf(ErrUnexpectedModule, "%T", ms[2])
			}
			return FuseConvTransposeBNReLU(conv, bn, relu)
		},
		PatternConvTransposeReLU: func(ms []nn.Module[B]) (nn.Module[B], error) {
			conv, relu, err := two[B, *nn.ConvTranspose2D[B], *nn.ReLU[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseConvTransposeReLU(conv, relu)
		},
		PatternLinearBN: func(ms []nn.Module[B]) (nn.Module[B], error) {
			linear, bn, err := two[B, *nn.Linear[B], *nn.BatchNorm1D[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseLinearBN(linear, bn)
		},
		PatternLinearReLU: func(ms []nn.Module[B]) (nn.Module[B], error) {
			linear, relu, err := two[B, *nn.Linear[B], *nn.ReLU[B]](ms)
			if err != nil {
				return nil, err
			}
			return FuseLinearReLU(linear, relu)
		},
	}
}

// two asserts a pair of modules to their concrete types.
func two[B tensor.Backend, X, Y nn.Module[B]](ms []nn.Module[B]) (X, Y, error) {
	var x X
	var y Y
	if len(ms) != 2 {
		return x, y, errors.Wrapf(ErrUnexpectedModule, "expected 2 modules, got %d", len(ms))
	}
	x, okX := ms[0].(X)
	y, okY := ms[1].(Y)
	if !okX || !okY {
		return x, y, errors.Wrapf(ErrUnexpectedModule, "%T, %T", ms[0], ms[1])
	}
	return x, y, nil
}

// GetFuserMethod returns the fuser method for pattern, consulting extra
// before the default table.
func GetFuserMethod[B tensor.Backend](pattern Pattern, extra map[Pattern]FuserMethod[B]) (FuserMethod[B], error) {
	if m, ok := extra[pattern]; ok {
		return m, nil
	}
	if m, ok := DefaultFuserMethods[B]()[pattern]; ok {
		return m, nil
	}
	return nil, errors.Wrapf(ErrNoFuserMethod, "%q", pattern)
}

// patterns returns the keys of the default table merged with extra.
func patterns[B tensor.Backend](extra map[Pattern]FuserMethod[B]) map[Pattern]FuserMethod[B] {
	all := DefaultFuserMethods[B]()
	maps.Copy(all, extra)
	return all
}
