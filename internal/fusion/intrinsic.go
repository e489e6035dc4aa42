package fusion

import (
	"fmt"
	"strings"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// child is a named sub-module of a chain.
type child[B tensor.Backend] struct {
	name   string
	module nn.Module[B]
}

// chain runs its children in order. It implements nn.Module for the
// intrinsic modules below.
type chain[B tensor.Backend] struct {
	kind     string
	children []child[B]
}

func (c *chain[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := input
	for _, ch := range c.children {
		x = ch.module.Forward(x)
	}
	return x
}

func (c *chain[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, ch := range c.children {
		params = append(params, ch.module.Parameters()...)
	}
	return params
}

// StateDict prefixes child keys with the child name ("conv.weight").
func (c *chain[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, ch := range c.children {
		for k, v := range ch.module.StateDict() {
			stateDict[ch.name+"."+k] = v
		}
	}
	return stateDict
}

func (c *chain[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, ch := range c.children {
		sub := make(map[string]*tensor.RawTensor)
		for k, v := range stateDict {
			if name, ok := strings.CutPrefix(k, ch.name+"."); ok {
				sub[name] = v
			}
		}
		if len(sub) == 0 {
			continue
		}
		if err := ch.module.LoadStateDict(sub); err != nil {
			return errors.Wrapf(err, "%s.%s", c.kind, ch.name)
		}
	}
	return nil
}

func (c *chain[B]) Train(training bool) {
	for _, ch := range c.children {
		ch.module.Train(training)
	}
}

func (c *chain[B]) Training() bool {
	return c.children[0].module.Training()
}

func (c *chain[B]) String() string {
	parts := make([]string, len(c.children))
	for i, ch := range c.children {
		parts[i] = fmt.Sprint(ch.module)
	}
	return c.kind + "(" + strings.Join(parts, ", ") + ")"
}

// ConvBN2D is a convolution followed by batch normalization kept as
// separate stages, produced when fusing in training mode.
type ConvBN2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.Conv2D[B]
	bn   *nn.BatchNorm2D[B]
}

// NewConvBN2D wraps conv and bn.
func NewConvBN2D[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B]) *ConvBN2D[B] {
	return &ConvBN2D[B]{
		chain: chain[B]{kind: "ConvBN2D", children: []child[B]{{"conv", conv}, {"bn", bn}}},
		conv:  conv,
		bn:    bn,
	}
}

// Conv returns the convolution stage.
func (m *ConvBN2D[B]) Conv() *nn.Conv2D[B] { return m.conv }

// BN returns the batch-norm stage.
func (m *ConvBN2D[B]) BN() *nn.BatchNorm2D[B] { return m.bn }

// Fold returns the folded convolution for inference. The module must be
// in eval mode.
func (m *ConvBN2D[B]) Fold() (*nn.Conv2D[B], error) {
	if m.Training() {
		return nil, errors.Wrap(ErrUnsupportedTraining, "ConvBN2D.Fold")
	}
	return FuseConvBNEval(m.conv, m.bn)
}

// ConvBNReLU2D is a convolution, batch normalization and ReLU kept as
// separate stages, produced when fusing in training mode.
type ConvBNReLU2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.Conv2D[B]
	bn   *nn.BatchNorm2D[B]
}

// NewConvBNReLU2D wraps conv, bn and relu.
func NewConvBNReLU2D[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B], relu *nn.ReLU[B]) *ConvBNReLU2D[B] {
	return &ConvBNReLU2D[B]{
		chain: chain[B]{kind: "ConvBNReLU2D", children: []child[B]{{"conv", conv}, {"bn", bn}, {"relu", relu}}},
		conv:  conv,
		bn:    bn,
	}
}

// Conv returns the convolution stage.
func (m *ConvBNReLU2D[B]) Conv() *nn.Conv2D[B] { return m.conv }

// BN returns the batch-norm stage.
func (m *ConvBNReLU2D[B]) BN() *nn.BatchNorm2D[B] { return m.bn }

// Fold returns a ConvReLU2D with the batch norm folded in. The module must
// be in eval mode.
func (m *ConvBNReLU2D[B]) Fold() (*ConvReLU2D[B], error) {
	if m.Training() {
		return nil, errors.Wrap(ErrUnsupportedTraining, "ConvBNReLU2D.Fold")
	}
	conv, err := FuseConvBNEval(m.conv, m.bn)
	if err != nil {
		return nil, err
	}
	return NewConvReLU2D(conv, nn.NewReLU[B]()), nil
}

// ConvReLU2D is a convolution followed by ReLU.
type ConvReLU2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.Conv2D[B]
}

// NewConvReLU2D wraps conv and relu. relu takes conv's mode.
func NewConvReLU2D[B tensor.Backend](conv *nn.Conv2D[B], relu *nn.ReLU[B]) *ConvReLU2D[B] {
	relu.Train(conv.Training())
	return &ConvReLU2D[B]{
		chain: chain[B]{kind: "ConvReLU2D", children: []child[B]{{"conv", conv}, {"relu", relu}}},
		conv:  conv,
	}
}

// Conv returns the convolution stage.
func (m *ConvReLU2D[B]) Conv() *nn.Conv2D[B] { return m.conv }

// LinearReLU is a linear layer followed by ReLU.
type LinearReLU[B tensor.Backend] struct {
	chain[B]
	linear *nn.Linear[B]
}

// NewLinearReLU wraps linear and relu. relu takes linear's mode.
func NewLinearReLU[B tensor.Backend](linear *nn.Linear[B], relu *nn.ReLU[B]) *LinearReLU[B] {
	relu.Train(linear.Training())
	return &LinearReLU[B]{
		chain:  chain[B]{kind: "LinearReLU", children: []child[B]{{"linear", linear}, {"relu", relu}}},
		linear: linear,
	}
}

// Linear returns the linear stage.
func (m *LinearReLU[B]) Linear() *nn.Linear[B] { return m.linear }

// ConvTransposeBN2D is a transposed convolution followed by batch
// normalization, produced when fusing in training mode.
type ConvTransposeBN2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.ConvTranspose2D[B]
	bn   *nn.BatchNorm2D[B]
}

// NewConvTransposeBN2D wraps conv and bn.
func NewConvTransposeBN2D[B tensor.Backend](conv *nn.ConvTranspose2D[B], bn *nn.BatchNorm2D[B]) *ConvTransposeBN2D[B] {
	return &ConvTransposeBN2D[B]{
		chain: chain[B]{kind: "ConvTransposeBN2D", children: []child[B]{{"conv", conv}, {"bn", bn}}},
		conv:  conv,
		bn:    bn,
	}
}

// Conv returns the transposed convolution stage.
func (m *ConvTransposeBN2D[B]) Conv() *nn.ConvTranspose2D[B] { return m.conv }

// BN returns the batch-norm stage.
func (m *ConvTransposeBN2D[B]) BN() *nn.BatchNorm2D[B] { return m.bn }

// Fold returns the folded transposed convolution. The module must be in
// eval mode.
func (m *ConvTransposeBN2D[B]) Fold() (*nn.ConvTranspose2D[B], error) {
	if m.Training() {
		return nil, errors.Wrap(ErrUnsupportedTraining, "ConvTransposeBN2D.Fold")
	}
	return FuseConvTransposeBNEval(m.conv, m.bn)
}

// ConvTransposeBNReLU2D is a transposed convolution, batch normalization
// and ReLU, produced when fusing in training mode.
type ConvTransposeBNReLU2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.ConvTranspose2D[B]
	bn   *nn.BatchNorm2D[B]
}

// NewConvTransposeBNReLU2D wraps conv, bn and relu.
func NewConvTransposeBNReLU2D[B tensor.Backend](conv *nn.ConvTranspose2D[B], bn *nn.BatchNorm2D[B], relu *nn.ReLU[B]) *ConvTransposeBNReLU2D[B] {
	return &ConvTransposeBNReLU2D[B]{
		chain: chain[B]{kind: "ConvTransposeBNReLU2D", children: []child[B]{{"conv", conv}, {"bn", bn}, {"relu", relu}}},
		conv:  conv,
		bn:    bn,
	}
}

// Conv returns the transposed convolution stage.
func (m *ConvTransposeBNReLU2D[B]) Conv() *nn.ConvTranspose2D[B] { return m.conv }

// BN returns the batch-norm stage.
func (m *ConvTransposeBNReLU2D[B]) BN() *nn.BatchNorm2D[B] { return m.bn }

// Fold returns a ConvTransposeReLU2D with the batch norm folded in.
func (m *ConvTransposeBNReLU2D[B]) Fold() (*ConvTransposeReLU2D[B], error) {
	if m.Training() {
		return nil, errors.Wrap(ErrUnsupportedTraining, "ConvTransposeBNReLU2D.Fold")
	}
	conv, err := FuseConvTransposeBNEval(m.conv, m.bn)
	if err != nil {
		return nil, err
	}
	return NewConvTransposeReLU2D(conv, nn.NewReLU[B]()), nil
}

// ConvTransposeReLU2D is a transposed convolution followed by ReLU.
type ConvTransposeReLU2D[B tensor.Backend] struct {
	chain[B]
	conv *nn.ConvTranspose2D[B]
}

// NewConvTransposeReLU2D wraps conv and relu. relu takes conv's mode.
func NewConvTransposeReLU2D[B tensor.Backend](conv *nn.ConvTranspose2D[B], relu *nn.ReLU[B]) *ConvTransposeReLU2D[B] {
	relu.Train(conv.Training())
	return &ConvTransposeReLU2D[B]{
		chain: chain[B]{kind: "ConvTransposeReLU2D", children: []child[B]{{"conv", conv}, {"relu", relu}}},
		conv:  conv,
	}
}

// Conv returns the transposed convolution stage.
func (m *ConvTransposeReLU2D[B]) Conv() *nn.ConvTranspose2D[B] { return m.conv }
