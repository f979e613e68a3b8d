/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cpc

import (
	"fmt"

	"github.com/sampan-dong/sketches-core/internal"
)

const defaultLgK = 11

// CpcSketch is a Compressed Probabilistic Counting sketch: a sub-linear
// structure for estimating the number of distinct items presented to it.
// A sketch is mutated only by its owning goroutine; it has no internal
// locking and concurrent updates are not supported.
type CpcSketch struct {
	seed uint64

	//common variables
	lgK        int
	numCoupons uint64 // The number of coupons collected so far.
	mergeFlag  bool   // Is the sketch the result of merging?
	fiCol      int    // First Interesting Column. This is part of a speed optimization.

	windowOffset  int
	slidingWindow []byte     //either nil or size K bytes
	pairTable     *pairTable //for sparse and surprising values, either nil or variable size

	//The following variables are only valid in HIP variants
	kxp         float64 //used with HIP
	hipEstAccum float64 //used with HIP

	scratch [8]byte
}

// NewCpcSketch constructs an empty sketch with the given lgK in [4, 26] and
// seed. A seed of zero is remapped to the package default seed.
func NewCpcSketch(lgK int, seed uint64) (*CpcSketch, error) {
	if err := checkLgK(lgK); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = internal.DEFAULT_UPDATE_SEED
	}
	c := &CpcSketch{
		lgK:  lgK,
		seed: seed,
	}
	c.reset()
	return c, nil
}

// NewCpcSketchWithDefault constructs an empty sketch with the given lgK and
// the package default seed.
func NewCpcSketchWithDefault(lgK int) (*CpcSketch, error) {
	return NewCpcSketch(lgK, internal.DEFAULT_UPDATE_SEED)
}

// GetEstimate returns the best estimate of the cardinality of the sketch.
func (c *CpcSketch) GetEstimate() float64 {
	if c.mergeFlag {
		return iconEstimate(c.lgK, c.numCoupons)
	}
	return c.hipEstAccum
}

// GetUpperBound returns the upper bound of the confidence interval given
// kappa, the number of standard deviations from the mean: 1, 2 or 3.
func (c *CpcSketch) GetUpperBound(kappa int) float64 {
	if c.mergeFlag {
		return iconConfidenceUB(c.lgK, c.numCoupons, kappa)
	}
	return hipConfidenceUB(c.lgK, c.numCoupons, c.hipEstAccum, kappa)
}

// GetLowerBound returns the lower bound of the confidence interval given
// kappa, the number of standard deviations from the mean: 1, 2 or 3.
func (c *CpcSketch) GetLowerBound(kappa int) float64 {
	if c.mergeFlag {
		return iconConfidenceLB(c.lgK, c.numCoupons, kappa)
	}
	return hipConfidenceLB(c.lgK, c.numCoupons, c.hipEstAccum, kappa)
}

// getFlavor returns the sketch's current representational flavor, a pure
// function of (lgK, numCoupons).
func (c *CpcSketch) getFlavor() CpcFlavor {
	return determineFlavor(c.lgK, c.numCoupons)
}

// getFormat mirrors the information a codec would need to decide how to
// serialize this sketch; it does not serialize anything itself.
func (c *CpcSketch) getFormat() CpcFormat {
	f := c.getFlavor()
	if f == CpcFlavorEmpty {
		if c.mergeFlag {
			return CpcFormatEmptyMerged
		}
		return CpcFormatEmptyHip
	}
	var ordinal int
	if f == CpcFlavorSparse || f == CpcFlavorHybrid {
		ordinal = 2
	} else {
		if c.slidingWindow != nil {
			ordinal |= 4
		}
		if c.pairTable != nil && c.pairTable.numPairs > 0 {
			ordinal |= 2
		}
	}
	if !c.mergeFlag {
		ordinal |= 1
	}
	return CpcFormat(ordinal)
}

func (c *CpcSketch) getFamily() int {
	return internal.FamilyEnum.CPC.Id
}

// reset zeroes all state but keeps lgK and seed.
func (c *CpcSketch) reset() {
	c.numCoupons = 0
	c.mergeFlag = false
	c.fiCol = 0
	c.windowOffset = 0
	c.slidingWindow = nil
	c.pairTable = nil
	c.kxp = float64(int64(1) << c.lgK)
	c.hipEstAccum = 0
}

// copy returns a deep clone: the pair table and sliding window are cloned,
// scalars are shallow-copied. Mutating the result never affects the
// receiver, or vice versa.
func (c *CpcSketch) copy() (*CpcSketch, error) {
	cp, err := NewCpcSketch(c.lgK, c.seed)
	if err != nil {
		return nil, err
	}
	cp.numCoupons = c.numCoupons
	cp.mergeFlag = c.mergeFlag
	cp.fiCol = c.fiCol
	cp.windowOffset = c.windowOffset
	if c.slidingWindow != nil {
		cp.slidingWindow = append([]byte(nil), c.slidingWindow...)
	}
	if c.pairTable != nil {
		pt, err := c.pairTable.copy()
		if err != nil {
			return nil, err
		}
		cp.pairTable = pt
	}
	cp.kxp = c.kxp
	cp.hipEstAccum = c.hipEstAccum
	return cp, nil
}

func checkSeeds(a, b uint64) error {
	if a != b {
		return fmt.Errorf("seed mismatch: %d != %d", a, b)
	}
	return nil
}
