// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mlp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aurora327/gqakernel/decoderctx"
	"github.com/aurora327/gqakernel/matmulref"
	"github.com/aurora327/gqakernel/normref"
	"github.com/aurora327/gqakernel/tensor"
)

func newMLPContext(hidden, interm, batch, seqLen, numSplit, splitIdx int) *decoderctx.Context[float32] {
	rows := batch * seqLen
	return &decoderctx.Context[float32]{
		HiddenSize:       hidden,
		IntermediateSize: interm,
		BatchSize:        batch,
		InputSeqLen:      seqLen,
		NumThreads:       1,
		NumSplit:         numSplit,
		SplitIdx:         splitIdx,
		Epsilon:          1e-6,
		ActType:          decoderctx.SiLU,
		NormBuf:          make([]float32, rows*hidden),
		ImOut:            make([]float32, rows*2*interm),
	}
}

func randSlice(n int, rng *rand.Rand) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func newWeights(hidden, interm int, rng *rand.Rand) WeightSet[float32] {
	return WeightSet[float32]{
		GateWeight: randSlice(hidden*interm, rng),
		UpWeight:   randSlice(hidden*interm, rng),
		DownWeight: randSlice(interm*hidden, rng),
		NormGamma:  onesSlice(hidden),
		ElemType:   tensor.WeightFloat32,
	}
}

func onesSlice(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestMLPConcatenatedMatchesSeparateWeightPath(t *testing.T) {
	hidden, interm, batch, seqLen := 8, 12, 1, 3
	rng := rand.New(rand.NewSource(1))
	ws := newWeights(hidden, interm, rng)
	inputData := randSlice(batch*seqLen*hidden, rng)

	run := func(concatenated bool) tensor.Matrix[float32] {
		ctx := newMLPContext(hidden, interm, batch, seqLen, 1, 0)
		b := New[float32](ctx, Config[float32]{
			Matmul:       matmulref.New[float32](nil),
			Norm:         &normref.RMSNorm[float32]{},
			Concatenated: concatenated,
		})
		b.SetWeights(ws)

		input := tensor.ViewMatrix(append([]float32{}, inputData...), batch*seqLen, hidden, hidden)
		output := tensor.NewMatrix[float32](batch*seqLen, hidden)
		b.Forward(ForwardInput[float32]{Input: input, Output: output})
		return output
	}

	sep := run(false)
	cat := run(true)

	for i := range sep.Data {
		if math.Abs(float64(sep.Data[i]-cat.Data[i])) > 1e-3 {
			t.Errorf("elem %d: separate=%v, concatenated=%v, want equal weight layouts to produce the same result", i, sep.Data[i], cat.Data[i])
		}
	}
}

func TestMLPMatchesScalarReference(t *testing.T) {
	hidden, interm, batch, seqLen := 6, 10, 1, 2
	rng := rand.New(rand.NewSource(2))
	ws := newWeights(hidden, interm, rng)
	inputData := randSlice(batch*seqLen*hidden, rng)

	ctx := newMLPContext(hidden, interm, batch, seqLen, 1, 0)
	b := New[float32](ctx, Config[float32]{
		Matmul: matmulref.New[float32](nil),
		Norm:   &normref.RMSNorm[float32]{},
	})
	b.SetWeights(ws)

	input := tensor.ViewMatrix(append([]float32{}, inputData...), batch*seqLen, hidden, hidden)
	output := tensor.NewMatrix[float32](batch*seqLen, hidden)
	b.Forward(ForwardInput[float32]{Input: input, Output: output})

	want := scalarMLPReference(inputData, ws, hidden, interm, batch*seqLen, ctx.Epsilon)
	for i := range want {
		if math.Abs(float64(output.Data[i]-want[i])) > 1e-2 {
			t.Errorf("elem %d: got %v, want %v", i, output.Data[i], want[i])
		}
	}
}

// scalarMLPReference computes RMSNorm -> gate/up -> SiLU*up -> down + residual
// directly, independent of the matmul/norm helper implementations under test.
func scalarMLPReference(input []float32, ws WeightSet[float32], hidden, interm, rows int, eps float32) []float32 {
	out := make([]float32, rows*hidden)
	for r := 0; r < rows; r++ {
		row := input[r*hidden : (r+1)*hidden]

		var sumSq float64
		for _, x := range row {
			sumSq += float64(x) * float64(x)
		}
		invRMS := 1.0 / math.Sqrt(sumSq/float64(hidden)+float64(eps))
		normed := make([]float32, hidden)
		for i, x := range row {
			normed[i] = float32(float64(x) * invRMS) // gamma is all-ones
		}

		gated := make([]float32, interm)
		for i := 0; i < interm; i++ {
			var gateSum, upSum float32
			for h := 0; h < hidden; h++ {
				gateSum += normed[h] * ws.GateWeight[h*interm+i]
				upSum += normed[h] * ws.UpWeight[h*interm+i]
			}
			silu := gateSum / (1 + float32(math.Exp(float64(-gateSum))))
			gated[i] = silu * upSum
		}

		outRow := out[r*hidden : (r+1)*hidden]
		for h := 0; h < hidden; h++ {
			var sum float32
			for i := 0; i < interm; i++ {
				sum += gated[i] * ws.DownWeight[i*hidden+h]
			}
			outRow[h] = sum + row[h]
		}
	}
	return out
}

func TestMLPTensorParallelSplitsSumToUnsplitResult(t *testing.T) {
	hidden, interm, batch, seqLen := 8, 12, 1, 2
	rng := rand.New(rand.NewSource(3))
	ws := newWeights(hidden, interm, rng)
	inputData := randSlice(batch*seqLen*hidden, rng)

	run := func(numSplit, splitIdx int) tensor.Matrix[float32] {
		ctx := newMLPContext(hidden, interm, batch, seqLen, numSplit, splitIdx)
		b := New[float32](ctx, Config[float32]{
			Matmul: matmulref.New[float32](nil),
			Norm:   &normref.RMSNorm[float32]{},
		})
		b.SetWeights(ws)

		input := tensor.ViewMatrix(append([]float32{}, inputData...), batch*seqLen, hidden, hidden)
		output := tensor.NewMatrix[float32](batch*seqLen, hidden)
		b.Forward(ForwardInput[float32]{Input: input, Output: output})
		return output
	}

	unsplit := run(1, 0)
	masterOut := run(2, 0)
	nonMasterOut := run(2, 1)

	for i := range unsplit.Data {
		sum := masterOut.Data[i] + nonMasterOut.Data[i]
		if math.Abs(float64(sum-unsplit.Data[i])) > 1e-2 {
			t.Errorf("elem %d: master+nonMaster=%v, want unsplit result %v", i, sum, unsplit.Data[i])
		}
	}
}

func TestCatGateUpWeightsLayout(t *testing.T) {
	hidden, imLen := 2, 3
	gate := []float32{1, 2, 3, 4, 5, 6}
	up := []float32{10, 20, 30, 40, 50, 60}

	cat, _, _ := catGateUpWeights[float32](hidden, imLen, gate, nil, nil, up, nil, nil, tensor.WeightFloat32)

	want := []float32{1, 2, 3, 10, 20, 30, 4, 5, 6, 40, 50, 60}
	for i := range want {
		if cat[i] != want[i] {
			t.Errorf("cat[%d] = %v, want %v", i, cat[i], want[i])
		}
	}
}

func TestCatGateUpWeightsConcatenatesQuantCompanions(t *testing.T) {
	hidden, imLen := 1, 2
	gate := []float32{1, 2}
	up := []float32{3, 4}
	gateScale := []float32{0.1, 0.2}
	upScale := []float32{0.3, 0.4}
	gateZero := []float32{1, 2}
	upZero := []float32{3, 4}

	_, catScale, catZero := catGateUpWeights[float32](hidden, imLen, gate, gateScale, gateZero, up, upScale, upZero, tensor.WeightInt8)

	wantScale := []float32{0.1, 0.2, 0.3, 0.4}
	wantZero := []float32{1, 2, 3, 4}
	for i := range wantScale {
		if catScale[i] != wantScale[i] {
			t.Errorf("catScale[%d] = %v, want %v", i, catScale[i], wantScale[i])
		}
		if catZero[i] != wantZero[i] {
			t.Errorf("catZero[%d] = %v, want %v", i, catZero[i], wantZero[i])
		}
	}
}

func TestSiLUSumFusesActivationAndProduct(t *testing.T) {
	imLen := 2
	interm := tensor.ViewMatrix([]float32{1, 2, 10, 20}, 1, 4, 4) // gate=[1,2], up=[10,20]
	out := make([]float32, imLen)

	siluSum(interm, imLen, out, imLen)

	for i := 0; i < imLen; i++ {
		gate := interm.Data[i]
		up := interm.Data[imLen+i]
		silu := gate / (1 + float32(math.Exp(float64(-gate))))
		want := silu * up
		if math.Abs(float64(out[i]-want)) > 1e-5 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}
