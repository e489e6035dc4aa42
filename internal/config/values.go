package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// numbers evaluates every attribute of body. Numbers and bools land in
// values (true is 1), lists and tuples of numbers land in lists.
func numbers(body hcl.Body) (values map[string]float64, lists map[string][]float64, err error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, nil, errors.New(diags.Error())
	}

	values = make(map[string]float64, len(attrs))
	lists = make(map[string][]float64)
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, nil, errors.New(diags.Error())
		}
		if v.IsNull() || !v.IsWhollyKnown() {
			return nil, nil, errors.Wrapf(ErrInvalid, "%s: value must be known", name)
		}

		ty := v.Type()
		switch {
		case ty == cty.Bool:
			values[name] = 0
			if v.True() {
				values[name] = 1
			}
		case ty == cty.Number:
			var f float64
			if err := gocty.FromCtyValue(v, &f); err != nil {
				return nil, nil, errors.Wrapf(err, "%s", name)
			}
			values[name] = f
		case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
			list, err := convert.Convert(v, cty.List(cty.Number))
			if err != nil {
				return nil, nil, errors.Wrapf(ErrInvalid, "%s: %v", name, err)
			}
			var fs []float64
			if err := gocty.FromCtyValue(list, &fs); err != nil {
				return nil, nil, errors.Wrapf(err, "%s", name)
			}
			lists[name] = fs
		default:
			return nil, nil, errors.Wrapf(ErrInvalid, "%s: want a number or list of numbers, got %s",
				name, ty.FriendlyName())
		}
	}
	return values, lists, nil
}
