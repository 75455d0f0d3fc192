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

// Package ops' context.go carries the promise-based pipeline scaffolding
// that the teacher's synchronous OperatorUnary chain was rebuilt into, to
// let a reference frame selected deep inside a pipeline (star alignment
// target, histogram matching target, dark/flat frames held for batch
// memory sizing) flow forward to every later stage without each stage
// re-deriving it.
package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/star"
	"github.com/astrokit/astroengine/internal/stats"
)

// Promise is a deferred, possibly expensive computation yielding one image.
// Operators chain by wrapping each other's promises rather than by forcing
// materialization eagerly, so a pipeline with N inputs and M pipeline stages
// never holds more than a working set of images in memory at once.
type Promise func() (*fits.Image, error)

// Operator is the promise-based successor to OperatorUnary/OperatorParallel:
// it consumes a slice of input promises and the shared pipeline Context,
// and returns a slice of output promises. Implementations may return fewer
// promises than they received (a stacking join) or the same number (a
// per-frame transform).
type Operator interface {
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
	OpType() string
}

// Context carries state shared across an entire pipeline run: logging,
// concurrency limits, the reference frame selected for alignment or
// histogram matching, and the dark/flat frames held onto for batch memory
// partitioning.
type Context struct {
	Log         io.Writer
	LSEstimator stats.LSEstimatorMode

	MaxThreads    int
	MemoryMB      int64
	StackMemoryMB int64

	AlignNaxisn []int32
	AlignStars  []star.Star
	AlignHFR    float32

	MatchHisto *stats.Stats
	RefFrame   *fits.Image

	RefFrameError error

	DarkFrame *fits.Image
	FlatFrame *fits.Image
	LumFrame  *fits.Image
}

// NewContext creates a Context with the given log sink and location/scale
// estimator. MaxThreads defaults to 1.
func NewContext(logWriter io.Writer, lsEstimator stats.LSEstimatorMode) *Context {
	return &Context{
		Log:         logWriter,
		LSEstimator: lsEstimator,
		MaxThreads:  1,
	}
}

// MaterializeAll evaluates the given promises, at most maxThreads at a time,
// and returns their images in input order together with the first error
// encountered. logProgress has no effect: MaterializeAll writes no progress
// output, leaving progress reporting to callers that have a Context at hand.
func MaterializeAll(promises []Promise, maxThreads int, logProgress bool) ([]*fits.Image, error) {
	if maxThreads < 1 {
		maxThreads = 1
	}
	results := make([]*fits.Image, len(promises))
	sem := make(chan bool, maxThreads)
	errs := make(chan error, len(promises))
	for i, p := range promises {
		sem <- true
		go func(i int, p Promise) {
			defer func() { <-sem }()
			f, err := p()
			if err != nil {
				errs <- err
				return
			}
			results[i] = f
			errs <- nil
		}(i, p)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- true
	}
	var firstErr error
	for i := 0; i < len(promises); i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if logProgress {
		// progress is reported by the caller, which owns c.Log; nothing to do here
	}
	return results, firstErr
}

// OpBase is the common header embedded by every promise-based operator,
// giving it a JSON discriminator and an on/off switch.
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"-"`
}

// OpType returns the operator's JSON discriminator, used by OpSequence to
// pick the right factory when decoding a polymorphic pipeline from JSON.
func (op *OpBase) OpType() string { return op.Type }

// OpUnaryBase is embedded by operators that transform one image into one
// image. Concrete types assign their own Apply method to the embedded
// field in their constructor, then inherit MakePromises for free.
type OpUnaryBase struct {
	OpBase
	Apply func(f *fits.Image, c *Context) (fOut *fits.Image, err error)
}

// MakePromises wraps each input promise with op.Apply, deferring the
// transform until the output promise is materialized.
func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		in := in
		outs[i] = func() (*fits.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			if op.Apply == nil {
				return f, nil
			}
			return op.Apply(f, c)
		}
	}
	return outs, nil
}

// operatorFactories holds one zero-value constructor per registered
// operator type, keyed by its OpType() discriminator, so OpSequence can
// decode a JSON pipeline description without a central type switch.
var operatorFactories = map[string]func() Operator{}

// SetOperatorFactory registers the factory's zero-value OpType() as the
// JSON discriminator for decoding operators of that kind. Operator packages
// call this from an init() function.
func SetOperatorFactory(factory func() Operator) {
	op := factory()
	operatorFactories[op.OpType()] = factory
}

// OpSequence chains a fixed list of operators, feeding each stage's output
// promises as the next stage's input promises.
type OpSequence struct {
	OpBase
	Steps []Operator `json:"steps"`
}

func init() {
	SetOperatorFactory(func() Operator { return NewOpSequence() })
}

// NewOpSequence builds a sequence from the given steps, in order.
func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "sequence", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// MakePromises runs ins through each step in turn.
func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if !op.Active {
		return ins, nil
	}
	outs = ins
	for _, step := range op.Steps {
		outs, err = step.MakePromises(outs, c)
		if err != nil {
			return nil, err
		}
	}
	return outs, nil
}

// UnmarshalJSON decodes a sequence whose steps are tagged with a "type"
// discriminator, dispatching each to its registered factory.
func (op *OpSequence) UnmarshalJSON(data []byte) error {
	var raw struct {
		Active bool              `json:"active"`
		Steps  []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	steps := make([]Operator, 0, len(raw.Steps))
	for _, stepData := range raw.Steps {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(stepData, &head); err != nil {
			return err
		}
		factory, ok := operatorFactories[head.Type]
		if !ok {
			return errors.New(fmt.Sprintf("unknown operator type %q", head.Type))
		}
		step := factory()
		if err := json.Unmarshal(stepData, step); err != nil {
			return err
		}
		steps = append(steps, step)
	}
	op.OpBase = OpBase{Type: "sequence", Active: len(steps) > 0}
	op.Steps = steps
	return nil
}

// OpLoad sources a single image from a file, under a caller-assigned ID.
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoad(0, "") }) }

// NewOpLoad builds a loader for one file.
func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{OpBase: OpBase{Type: "load", Active: true}, ID: id, FileName: fileName}
}

// MakePromises ignores ins (a load is a pipeline source) and returns a
// single promise for the loaded image.
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	p := func() (*fits.Image, error) {
		f, err := fits.NewImageFromFile(op.FileName, op.ID, c.Log)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(c.Log, "%d: Loaded %s pixel frame with %v from %s\n", f.ID, f.DimensionsToString(), f.Stats, f.FileName)
		return f, nil
	}
	return []Promise{p}, nil
}

// OpLoadMany expands a list of filename glob patterns into one load
// promise per matching file, assigning sequential IDs in match order.
type OpLoadMany struct {
	OpBase
	Patterns []string `json:"patterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadMany(nil) }) }

// NewOpLoadMany builds a source expanding the given glob patterns.
func NewOpLoadMany(patterns []string) *OpLoadMany {
	return &OpLoadMany{OpBase: OpBase{Type: "loadMany", Active: true}, Patterns: patterns}
}

// MakePromises globs every pattern and returns one promise per match.
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	type match struct {
		fileName string
	}
	var matches []match
	for _, pattern := range op.Patterns {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, fileName := range files {
			matches = append(matches, match{fileName})
		}
	}
	if len(matches) == 0 {
		return nil, errors.New("no frames to process")
	}
	fmt.Fprintf(c.Log, "Found %d files:\n", len(matches))
	outs = make([]Promise, len(matches))
	for i, m := range matches {
		id, fileName := i, m.fileName
		fmt.Fprintf(c.Log, "%d: %s\n", id, fileName)
		outs[i] = func() (*fits.Image, error) {
			f, err := fits.NewImageFromFile(fileName, id, c.Log)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(c.Log, "%d: Loaded %s pixel frame with %v from %s\n", f.ID, f.DimensionsToString(), f.Stats, f.FileName)
			return f, nil
		}
	}
	return outs, nil
}

// OpSave writes every image passing through to a file, substituting the
// image's ID for a "%d" verb in the file pattern. It is a pass-through: the
// materialized image is also handed on to the next stage unchanged.
type OpSave struct {
	OpBase
	FilePattern string      `json:"filePattern"`
	WriteConfig fits.WriteConfig `json:"writeConfig"`
	JPGQuality  int         `json:"jpgQuality"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSave("") }) }

// NewOpSave builds a save step for the given file pattern; an empty pattern
// makes the step inactive (pure pass-through).
func NewOpSave(filePattern string) *OpSave {
	return &OpSave{
		OpBase:      OpBase{Type: "save", Active: filePattern != ""},
		FilePattern: filePattern,
		JPGQuality:  95,
	}
}

// MakePromises wraps each input promise, writing the resolved image to
// disk as a side effect before passing it on.
func (op *OpSave) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		in := in
		outs[i] = func() (*fits.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			if !op.Active {
				return f, nil
			}
			if err := op.save(f, c); err != nil {
				return nil, err
			}
			return f, nil
		}
	}
	return outs, nil
}

func (op *OpSave) save(f *fits.Image, c *Context) error {
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	fnLower := strings.ToLower(fileName)

	switch {
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts") ||
		strings.HasSuffix(fnLower, ".fits.gz") || strings.HasSuffix(fnLower, ".fit.gz") || strings.HasSuffix(fnLower, ".fts.gz"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		if err := f.WriteFile(fileName, op.WriteConfig); err != nil {
			return errors.New(fmt.Sprintf("%d: error writing to file %s: %s", f.ID, fileName, err.Error()))
		}
	case strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg"):
		min, max := float32(0), float32(1)
		if f.Stats != nil {
			min, max = f.Stats.Min(), f.Stats.Max()
		}
		if len(f.Naxisn) == 2 {
			fmt.Fprintf(c.Log, "%d: Writing %s pixel mono JPEG to %s\n", f.ID, f.DimensionsToString(), fileName)
			if err := f.WriteMonoJPGToFile(fileName, min, max, 1, op.JPGQuality); err != nil {
				return errors.New(fmt.Sprintf("%d: error writing to file %s: %s", f.ID, fileName, err.Error()))
			}
		} else if len(f.Naxisn) == 3 && f.Naxisn[2] == 3 {
			fmt.Fprintf(c.Log, "%d: Writing %s pixel color JPEG to %s\n", f.ID, f.DimensionsToString(), fileName)
			if err := f.WriteJPGToFile(fileName, min, max, 1, op.JPGQuality); err != nil {
				return errors.New(fmt.Sprintf("%d: error writing to file %s: %s", f.ID, fileName, err.Error()))
			}
		} else {
			return errors.New(fmt.Sprintf("%d: unable to write %s pixel image as JPEG to %s", f.ID, f.DimensionsToString(), fileName))
		}
	default:
		return errors.New(fmt.Sprintf("%d: unknown output file suffix for %s", f.ID, fileName))
	}
	return nil
}
