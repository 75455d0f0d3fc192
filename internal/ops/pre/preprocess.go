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


package pre

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/star"
	"github.com/astrokit/astroengine/internal/ops"
)


type OpCalibrate struct {
	ops.OpUnaryBase
	ActiveDark        bool        `json:"activeDark"`
	Dark              string      `json:"dark"`
	DarkFrame         *fits.Image  `json:"-"`
	ActiveFlat        bool        `json:"activeFlat"`
	Flat              string      `json:"flat"`
	FlatFrame         *fits.Image  `json:"-"`
	mutex             sync.Mutex  `json:"-"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpCalibrateDefault() })} // register the operator for JSON decoding

func NewOpCalibrateDefault() *OpCalibrate { return NewOpCalibrate("", "") }

func NewOpCalibrate(dark, flat string) *OpCalibrate {
	op:=&OpCalibrate{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "calibrate"}},
		ActiveDark  : dark!="",
		Dark        : dark,
		ActiveFlat  : flat!="",
		Flat        : flat,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpCalibrate) UnmarshalJSON(data []byte) error {
	type defaults OpCalibrate
	def:=defaults( *NewOpCalibrateDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpCalibrate(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Load dark and flat in parallel if flagged
func (op *OpCalibrate) init(c *ops.Context) error {
	op.mutex.Lock()
	defer op.mutex.Unlock()
  if !( (op.ActiveDark && op.Dark!="" && op.DarkFrame==nil) ||
          (op.ActiveFlat && op.Flat!="" && op.FlatFrame==nil)    ) {
        	return nil
	}

  sem    :=make(chan error, 2) // limit parallelism to 2
  waiting:=0

  op.DarkFrame=nil
  if op.ActiveDark && op.Dark!="" {
		waiting++
		go func() {
			var err error
			op.DarkFrame, err=ops.LoadAndCalcStats(op.Dark, -1, "dark", c.Log)
			sem <- err
		}()
	}

	op.FlatFrame=nil
  if op.ActiveFlat && op.Flat!="" {
		waiting++
  	go func() {
			var err error
  		op.FlatFrame, err=ops.LoadAndCalcStats(op.Flat, -2, "flat", c.Log)
		  sem <- err
	  }()
  }

  var err error
	for ; waiting>0; waiting-- {
		threadErr := <- sem   // wait for goroutines to finish
		if threadErr!=nil {
			if err==nil {
				err=threadErr
			} else {
				 err=errors.New("Multiple errors: " + err.Error() + " and " + threadErr.Error())
			}
		}
	}
	if err!=nil {
		return err
	}

	if op.DarkFrame!=nil && op.FlatFrame!=nil && !fits.EqualInt32Slice(op.DarkFrame.Naxisn, op.FlatFrame.Naxisn) {
		return errors.New(fmt.Sprintf("Error: dark dimensions %v differ from flat dimensions %v.",
			                          op.DarkFrame.Naxisn, op.FlatFrame.Naxisn))
	}
	c.DarkFrame, c.FlatFrame=op.DarkFrame, op.FlatFrame
	return nil
}


// Apply calibration frames if active and available. Must have been loaded
func (op *OpCalibrate) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if err=op.init(c); err!=nil { return nil, err }

	if op.ActiveDark && op.DarkFrame!=nil && op.DarkFrame.Pixels>0 {
		if !fits.EqualInt32Slice(f.Naxisn, op.DarkFrame.Naxisn) {
			return nil, errors.New(fmt.Sprintf("%d: Light dimensions %v differ from dark dimensions %v",
			                      f.ID, f.Naxisn, op.DarkFrame.Naxisn))
		}
		Subtract(f.Data, f.Data, op.DarkFrame.Data)
		f.Stats.Clear()
	}

	if op.ActiveFlat && op.FlatFrame!=nil && op.FlatFrame.Pixels>0 {
		if !fits.EqualInt32Slice(f.Naxisn, op.FlatFrame.Naxisn) {
			return nil, errors.New(fmt.Sprintf("%d: Light dimensions %v differ from flat dimensions %v",
			                      f.ID, f.Naxisn, op.FlatFrame.Naxisn))
		}
		Divide(f.Data, f.Data, op.FlatFrame.Data, op.FlatFrame.Stats.Max())
		f.Stats.Clear()
	}
	return f, nil
}


type OpBadPixel struct {
	ops.OpUnaryBase
	Active            bool        `json:"active"`
	SigmaLow          float32     `json:"sigmaLow"`
	SigmaHigh         float32     `json:"sigmaHigh"`
	Debayer           *OpDebayer  `json:"-"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBadPixelDefault() })} // register the operator for JSON decoding

func NewOpBadPixelDefault() *OpBadPixel { return NewOpBadPixel(3, 5, nil) }

func NewOpBadPixel(bpSigLow, bpSigHigh float32, debayer *OpDebayer) *OpBadPixel {
	op:=&OpBadPixel{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "badPixel"}},
		Active      : bpSigLow>0 && bpSigHigh>0,
		SigmaLow    : bpSigLow,
		SigmaHigh   : bpSigHigh,
		Debayer     : debayer,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBadPixel) UnmarshalJSON(data []byte) error {
	type defaults OpBadPixel
	def:=defaults( *NewOpBadPixelDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpBadPixel(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}


// Apply bad pixel removal if active
func (op *OpBadPixel) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active ||  op.SigmaLow==0 || op.SigmaHigh==0 {
		return f, nil
	}
	if op.Debayer==nil || !op.Debayer.Active {
		var bpm []int32
		bpm, f.MedianDiffStats=BadPixelMap(f.Data, f.Naxisn[0], op.SigmaLow, op.SigmaHigh)
		mask:=star.CreateMask(f.Naxisn[0], 1.5)
		MedianFilterSparse(f.Data, bpm, mask)
		fmt.Fprintf(c.Log, "%d: Removed %d bad pixels (%.2f%%) with sigma low=%.2f high=%.2f\n",
			        f.ID, len(bpm), 100.0*float32(len(bpm))/float32(f.Pixels), op.SigmaLow, op.SigmaHigh)
	} else {
		numRemoved,err:=CosmeticCorrectionBayer(f.Data, f.Naxisn[0], op.Debayer.Debayer, op.Debayer.ColorFilterArray, op.SigmaLow, op.SigmaHigh)
		if err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Removed %d bad bayer pixels (%.2f%%) with sigma low=%.2f high=%.2f\n",
			        f.ID, numRemoved, 100.0*float32(numRemoved)/float32(f.Pixels), op.SigmaLow, op.SigmaHigh)
	}
	return f, nil
}


type OpDebayer struct {
	ops.OpUnaryBase
	Active            bool        `json:"active"`
	Debayer           string      `json:"debayer"`
	ColorFilterArray  string      `json:"colorFilterArray"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDebayerDefault() })} // register the operator for JSON decoding

func NewOpDebayerDefault() *OpDebayer { return NewOpDebayer("", "RGGB") }

func NewOpDebayer(debayer, cfa string) *OpDebayer {
	op:=&OpDebayer{
		OpUnaryBase      : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "debayer"}},
		Active           : debayer!="",
		Debayer          : debayer,
		ColorFilterArray : cfa,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDebayer) UnmarshalJSON(data []byte) error {
	type defaults OpDebayer
	def:=defaults( *NewOpDebayerDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpDebayer(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Apply debayering if active
func (op *OpDebayer) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active { return f, nil }

	f.Data, f.Naxisn[0], err=DebayerBilinear(f.Data, f.Naxisn[0], op.Debayer, op.ColorFilterArray)
	if err!=nil { return nil, err }
	f.Pixels=int32(len(f.Data))
	f.Naxisn[1]=f.Pixels/f.Naxisn[0]
	fmt.Fprintf(c.Log, "%d: Debayered channel %s from cfa %s, new size %dx%d\n", f.ID, op.Debayer, op.ColorFilterArray, f.Naxisn[0], f.Naxisn[1])

	return f, nil
}


type OpBin struct {
	ops.OpUnaryBase
	Active            bool        `json:"active"`
	BinSize           int32       `json:"binSize"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBinDefault() })} // register the operator for JSON decoding

func NewOpBinDefault() *OpBin { return NewOpBin(1) }

func NewOpBin(binning int32) *OpBin {
	op:=&OpBin{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "bin"}},
		Active      : binning>1,
		BinSize     : binning,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBin) UnmarshalJSON(data []byte) error {
	type defaults OpBin
	def:=defaults( *NewOpBinDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpBin(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Apply binning if active
func (op *OpBin) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active || op.BinSize<1 { return f, nil }

	newF:=fits.NewImageBinNxN(f, op.BinSize)
	fmt.Fprintf(c.Log, "%d: Applying %dx%d binning, new image size %dx%d\n", newF.ID, op.BinSize, op.BinSize, newF.Naxisn[0], newF.Naxisn[1])

	return newF, nil
}


type OpScaleOffset struct {
	ops.OpUnaryBase
	Scale  float32 `json:"scale"`
	Offset float32 `json:"offset"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpScaleOffsetDefault() })} // register the operator for JSON decoding

func NewOpScaleOffsetDefault() *OpScaleOffset { return NewOpScaleOffset(1, 0) }

// NewOpScaleOffset applies out = in*scale + offset to every pixel, ahead of
// binning and background extraction. A no-op for scale==1 && offset==0.
func NewOpScaleOffset(scale, offset float32) *OpScaleOffset {
	op:=&OpScaleOffset{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "scaleOffset", Active: scale!=1 || offset!=0}},
		Scale       : scale,
		Offset      : offset,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpScaleOffset) UnmarshalJSON(data []byte) error {
	type defaults OpScaleOffset
	def:=defaults( *NewOpScaleOffsetDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpScaleOffset(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpScaleOffset) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active { return f, nil }
	fmt.Fprintf(c.Log, "%d: Scaling by %.4g with offset %.4g\n", f.ID, op.Scale, op.Offset)
	f.ApplyScaleOffset(op.Scale, op.Offset)
	f.Stats.Clear()
	return f, nil
}


type OpBackExtract struct {
	ops.OpUnaryBase
	Active            bool            `json:"active"`
    GridSize     	  int32           `json:"gridSize"`
    Sigma 		      float32         `json:"sigma"`
    NumBlocksToClip   int32           `json:"numBlocksToClip"`
    Save             *ops.OpSave          `json:"save"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBackExtractDefault() })} // register the operator for JSON decoding

func NewOpBackExtractDefault() *OpBackExtract { return NewOpBackExtract(256, 1.5, 0, "") }

func NewOpBackExtract(backGrid int32, backSigma float32, backClip int32, savePattern string) *OpBackExtract {
	op:=&OpBackExtract{
		OpUnaryBase     : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "backExtract"}},
		Active          : backGrid>0,
	    GridSize     	: backGrid,
	    Sigma 		    : backSigma,
	    NumBlocksToClip : backClip,
	    Save            : ops.NewOpSave(savePattern),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBackExtract) UnmarshalJSON(data []byte) error {
	type defaults OpBackExtract
	def:=defaults( *NewOpBackExtractDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpBackExtract(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Apply background extraction if active
func (op *OpBackExtract) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active || op.GridSize<=0 { return f, nil }

	bg:=NewBackground(f.Data, f.Naxisn[0], op.GridSize, op.Sigma, op.NumBlocksToClip, c.Log)
	fmt.Fprintf(c.Log, "%d: %s\n", f.ID, bg)

	if op.Save==nil || !op.Save.Active || op.Save.FilePattern=="" {
		// faster, does not materialize background image explicitly
		err=bg.Subtract(f.Data)
		if err!=nil { return nil, err }
	} else {
		bgData:=bg.Render()
		bgFits:=fits.NewImageFromNaxisn(f.Naxisn, bgData)
		promises, err:=op.Save.MakePromises([]ops.Promise{func() (*fits.Image, error) { return bgFits, nil }}, c)
		if err!=nil { return nil, err }
		if _, err=promises[0](); err!=nil { return nil, err }
		Subtract(f.Data, f.Data, bgData)
		bgFits.Data, bgData=nil, nil
	}
	f.Stats.Clear()
	return f, nil
}


type OpStarDetect struct {
	ops.OpUnaryBase
	Active            bool            `json:"active"`
    Radius            int32           `json:"radius"`
	Sigma             float32         `json:"sigma"`
    BadPixelSigma     float32         `json:"badPixelSigma"`
    InOutRatio        float32         `json:"inOutRatio"`
    Save             *ops.OpSave          `json:"save"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStarDetectDefault() })} // register the operator for JSON decoding

// NewOpStarDetectDefault builds a star detector with the engine's standard
// detection thresholds, used e.g. as the reference-frame detector.
func NewOpStarDetectDefault() *OpStarDetect { return NewOpStarDetect(16, 15, -1, 1.4, "") }

func NewOpStarDetect(starRadius int32, starSig, starBpSig, starInOut float32, savePattern string) *OpStarDetect {
	op:=&OpStarDetect{
		OpUnaryBase     : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "starDetect"}},
		Active          : true,
	    Radius          : starRadius,
		Sigma           : starSig,
	    BadPixelSigma   : starBpSig,
	    InOutRatio      : starInOut,
	    Save            : ops.NewOpSave(savePattern),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStarDetect) UnmarshalJSON(data []byte) error {
	type defaults OpStarDetect
	def:=defaults( *NewOpStarDetectDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpStarDetect(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Apply star detection if active. Calculates needed stats on demand if not current
func (op *OpStarDetect) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active { return f, nil }

	if f.Stats==nil {
		panic("nil stats")
	}

	f.Stars, _, f.HFR=star.FindStars(f.Data, f.Naxisn[0], f.Stats.Location(), f.Stats.Scale(), op.Sigma, op.BadPixelSigma, op.InOutRatio, op.Radius, f.MedianDiffStats)
	fmt.Fprintf(c.Log, "%d: Stars %d HFR %.3g %v\n", f.ID, len(f.Stars), f.HFR, f.Stats)

	if op.Save!=nil && op.Save.Active {
		starsImg:=fits.NewImageFromStars(f, 2.0)
		promises, err:=op.Save.MakePromises([]ops.Promise{func() (*fits.Image, error) { return starsImg, nil }}, c)
		if err!=nil { return nil, err }
		if _, err=promises[0](); err!=nil { return nil, err }
	}

	return f, nil
}
