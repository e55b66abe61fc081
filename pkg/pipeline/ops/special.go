package ops

import (
	"context"
	"fmt"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// Input marks a graph source. It passes the bound image through.
func Input() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        pipeline.OpInput,
		Description: "Graph input: emits the image bound to this node",
		Inputs:      0,
		Outputs:     1,
		Transform:   identity,
	}
}

// Output marks a graph sink. The image reaching it is the graph result.
func Output() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        pipeline.OpOutput,
		Description: "Graph output: collects one result image",
		Inputs:      1,
		Outputs:     0,
		Transform:   identity,
	}
}

func identity(_ context.Context, in []*raster.Image, _ pipeline.Params, outputs int) ([]*raster.Image, error) {
	src, err := one(in)
	if err != nil {
		return nil, err
	}
	if outputs == 0 {
		return nil, nil
	}
	return []*raster.Image{src.Clone()}, nil
}

// Split copies its input to every output port.
func Split() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "split",
		Description: "Copies the image to each output",
		Inputs:      1,
		Outputs:     2,
		Variadic:    true,
		Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, outputs int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			out := make([]*raster.Image, outputs)
			for i := range out {
				out[i] = src.Clone()
			}
			return out, nil
		},
	}
}

// BitwiseAnd ANDs the 8-bit encodings of its inputs.
func BitwiseAnd() *pipeline.Operation {
	return bitwise("bitwise_and", "Bitwise AND of the inputs", func(a, b uint8) uint8 { return a & b })
}

// BitwiseOr ORs the 8-bit encodings of its inputs.
func BitwiseOr() *pipeline.Operation {
	return bitwise("bitwise_or", "Bitwise OR of the inputs", func(a, b uint8) uint8 { return a | b })
}

// BitwiseXor XORs the 8-bit encodings of its inputs.
func BitwiseXor() *pipeline.Operation {
	return bitwise("bitwise_xor", "Bitwise XOR of the inputs", func(a, b uint8) uint8 { return a ^ b })
}

func bitwise(name, descr string, fn func(a, b uint8) uint8) *pipeline.Operation {
	return &pipeline.Operation{
		Name:        name,
		Description: descr,
		Inputs:      2,
		Outputs:     1,
		Variadic:    true,
		Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
			if len(in) < 2 {
				return nil, fmt.Errorf("%s needs at least 2 inputs, got %d", name, len(in))
			}
			for _, m := range in[1:] {
				if !m.SameShape(in[0]) {
					return nil, fmt.Errorf("%s: shape mismatch %s vs %s", name, in[0], m)
				}
			}
			out := raster.NewLike(in[0])
			for i := range out.Pix {
				acc := raster.Byte(in[0].Pix[i])
				for _, m := range in[1:] {
					acc = fn(acc, raster.Byte(m.Pix[i]))
				}
				out.Pix[i] = float32(acc)
			}
			return []*raster.Image{out}, nil
		},
	}
}

// BitwiseNot inverts the 8-bit encoding of its input.
func BitwiseNot() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "bitwise_not",
		Description: "Bitwise NOT of the image",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			out := raster.NewLike(src)
			for i, v := range src.Pix {
				out.Pix[i] = float32(^raster.Byte(v))
			}
			return []*raster.Image{out}, nil
		},
	}
}

// one returns the single input image or an error.
func one(in []*raster.Image) (*raster.Image, error) {
	if len(in) != 1 || in[0] == nil {
		return nil, fmt.Errorf("expected exactly 1 input image, got %d", len(in))
	}
	return in[0], nil
}
