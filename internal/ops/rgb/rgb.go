
// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rgb

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/ops"
	"github.com/astrokit/astroengine/internal/ops/pre"
	"github.com/astrokit/astroengine/internal/ops/ref"
	"github.com/astrokit/astroengine/internal/ops/hsl"
	"github.com/astrokit/astroengine/internal/scnr"
	"github.com/astrokit/astroengine/internal/stf"
)


// Chains the given operators into the (L)RGB processing sequence, in argument order
func NewOpRGBLProcess(opStarDetect *pre.OpStarDetect, opSelectReference *ref.OpSelectReference,
                      opRGBCombine *OpRGBCombine,
                      opRGBToHSLuv *OpRGBToHSLuv, opHSLApplyLum *hsl.OpHSLApplyLum,
                      opHSLProcess *ops.OpSequence, opHSLuvToRGB *OpHSLuvToRGB,
                      opSave, opSave2 *ops.OpSave) *ops.OpSequence {
	return ops.NewOpSequence(
		opStarDetect, opSelectReference, opRGBCombine, opRGBToHSLuv, opHSLApplyLum,
		opHSLProcess, opHSLuvToRGB, opSave, opSave2,
	)
}


// OpRGBCombine joins three (or four, with luminance) monochrome channel
// promises into one aligned, white-balanced, auto-stretched and
// green-cast-suppressed color image, replacing the teacher's direct
// fits.NewRGBFromChannels join with the domain rgb.Compose + scnr.Apply
// pipeline so alignment, stretch and SCNR configuration travel with the
// pipeline's JSON description instead of being hardcoded.
type OpRGBCombine struct {
	ops.OpBase
	Align                 bool             `json:"align"`
	WhiteBalance          WhiteBalanceMode `json:"whiteBalance"`
	ManualR               float32          `json:"manualR"`
	ManualG               float32          `json:"manualG"`
	ManualB               float32          `json:"manualB"`
	LinkedStretch         bool             `json:"linkedStretch"`
	StfConfig             stf.Config       `json:"stf"`
	SCNRMethod            scnr.Method      `json:"scnrMethod"`
	SCNRAmount            float32          `json:"scnrAmount"`
	SCNRPreserveLuminance bool             `json:"scnrPreserveLuminance"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRGBCombineDefault() })} // register the operator for JSON decoding

func NewOpRGBCombineDefault() *OpRGBCombine { return NewOpRGBCombine() }

func NewOpRGBCombine() *OpRGBCombine {
	return &OpRGBCombine{
		OpBase:                ops.OpBase{Type:"rgbCombine", Active: true},
		Align:                 true,
		WhiteBalance:          WhiteBalanceAuto,
		StfConfig:             stf.DefaultConfig(),
		SCNRMethod:            scnr.AverageNeutral,
		SCNRAmount:            1,
		SCNRPreserveLuminance: true,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpRGBCombine) UnmarshalJSON(data []byte) error {
	type defaults OpRGBCombine
	def:=defaults( *NewOpRGBCombineDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpRGBCombine(def)
	return nil
}

func (op *OpRGBCombine) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)<3 || len(ins)>4 { return nil, errors.New(fmt.Sprintf("%s operator with %d inputs", op.Type, len(ins))) }
	out:=func() (fOut *fits.Image, err error) {
		fs,err:=ops.MaterializeAll(ins, c.MaxThreads, false)
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []ops.Promise{out}, nil
}

func (op *OpRGBCombine) Apply(fs []*fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if len(fs)<3 || len(fs)>4 {
		return nil, errors.New(fmt.Sprintf("Invalid number of channels for color combination: %d", len(fs)))
	}
	if len(fs)==4 {
		c.LumFrame=fs[3]
	}
	fmt.Fprintf(c.Log, "\nCombining RGB color channels...\n")

	width, height:=int(fs[0].Naxisn[0]), int(fs[0].Naxisn[1])
	cfg:=ComposeConfig{
		Align:         op.Align,
		WhiteBalance:  op.WhiteBalance,
		ManualR:       op.ManualR,
		ManualG:       op.ManualG,
		ManualB:       op.ManualB,
		LinkedStretch: op.LinkedStretch,
		StfConfig:     op.StfConfig,
	}
	res, err:=Compose(fs[0].Data, fs[1].Data, fs[2].Data, width, height, cfg)
	if err!=nil { return nil, err }

	scnrCfg:=scnr.Config{Method: op.SCNRMethod, Amount: op.SCNRAmount, PreserveLuminance: op.SCNRPreserveLuminance}
	res.G=scnr.Apply(res.R, res.G, res.B, scnrCfg)
	fmt.Fprintf(c.Log, "Aligned G by %v, B by %v. White gain %v. SCNR applied.\n", res.OffsetG, res.OffsetB, res.WhiteGain)

	npix:=int32(width*height)
	naxisn:=[]int32{int32(width), int32(height), 3}
	out:=fits.NewImageFromNaxisn(naxisn, nil)
	out.Exposure=fs[0].Exposure+fs[1].Exposure+fs[2].Exposure
	out.Stars, out.HFR=c.AlignStars, c.AlignHFR
	copy(out.Data[0*npix:1*npix], res.R)
	copy(out.Data[1*npix:2*npix], res.G)
	copy(out.Data[2*npix:3*npix], res.B)

	return out, nil
}



type OpRGBToHSLuv struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRGBToHSLuvDefault() })} // register the operator for JSON decoding

func NewOpRGBToHSLuvDefault() *OpRGBToHSLuv { return NewOpRGBToHSLuv() }

func NewOpRGBToHSLuv() *OpRGBToHSLuv {
	op:=&OpRGBToHSLuv{
		OpUnaryBase : ops.OpUnaryBase{OpBase: ops.OpBase{Type:"rgbToHSLuv"}},
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op	
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpRGBToHSLuv) UnmarshalJSON(data []byte) error {
	type defaults OpRGBToHSLuv
	def:=defaults( *NewOpRGBToHSLuvDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpRGBToHSLuv(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpRGBToHSLuv) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	fmt.Fprintf(c.Log,"Converting linear RGB to nonlinear HSLuv...\n")
	f.RGBToHSLuv()
	return f, nil
}




type OpHSLuvToRGB struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpHSLuvToRGBDefault() })} // register the operator for JSON decoding

func NewOpHSLuvToRGBDefault() *OpHSLuvToRGB { return NewOpHSLuvToRGB() }

func NewOpHSLuvToRGB() *OpHSLuvToRGB {
	op:=&OpHSLuvToRGB{
		OpUnaryBase : ops.OpUnaryBase{OpBase: ops.OpBase{Type:"hsluvToRGB"}},
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op	
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpHSLuvToRGB) UnmarshalJSON(data []byte) error {
	type defaults OpHSLuvToRGB
	def:=defaults( *NewOpHSLuvToRGBDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpHSLuvToRGB(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpHSLuvToRGB) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	fmt.Fprintf(c.Log, "Converting nonlinear HSLuv to linear RGB\n")
    f.HSLuvToRGB()
	return f, nil
}

