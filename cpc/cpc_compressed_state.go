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
	"encoding/binary"
	"fmt"

	"github.com/twmb/murmur3"
)

// computeSeedHash derives the low 16 bits that tag a sketch's update seed,
// the same quantity every snapshot carries so that a mismatched seed is
// caught at restore time rather than silently corrupting estimates.
func computeSeedHash(seed uint64) int16 {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], seed)
	h1, _ := murmur3.SeedSum128(seed, seed, scratch[:])
	return int16(h1 & 0xFFFF)
}

// CpcCompressedState is a point-in-time snapshot of a sketch's logical
// state: the scalar fields plus live copies of the sliding window and pair
// table. It carries no on-wire byte layout; it exists purely so callers can
// save a sketch's state and later restore an equivalent sketch.
type CpcCompressedState struct {
	LgK      int
	SeedHash int16

	FiCol      int
	WindowOffset int
	MergeFlag  bool
	NumCoupons uint64

	Kxp         float64
	HipEstAccum float64

	SlidingWindow []byte
	PairTable     *pairTable
}

// getFormat reports the format this snapshot would have if serialized,
// mirroring CpcSketch.getFormat without requiring a live sketch.
func (cs *CpcCompressedState) getFormat() CpcFormat {
	flavor := determineFlavor(cs.LgK, cs.NumCoupons)
	if flavor == CpcFlavorEmpty {
		if cs.MergeFlag {
			return CpcFormatEmptyMerged
		}
		return CpcFormatEmptyHip
	}
	var ordinal int
	if flavor == CpcFlavorSparse || flavor == CpcFlavorHybrid {
		ordinal = 2
	} else {
		if cs.SlidingWindow != nil {
			ordinal |= 4
		}
		if cs.PairTable != nil && cs.PairTable.numPairs > 0 {
			ordinal |= 2
		}
	}
	if !cs.MergeFlag {
		ordinal |= 1
	}
	return CpcFormat(ordinal)
}

// Compress captures a deep-copied snapshot of sk's current state.
func Compress(sk *CpcSketch) (*CpcCompressedState, error) {
	cs := &CpcCompressedState{
		LgK:          sk.lgK,
		SeedHash:     computeSeedHash(sk.seed),
		FiCol:        sk.fiCol,
		WindowOffset: sk.windowOffset,
		MergeFlag:    sk.mergeFlag,
		NumCoupons:   sk.numCoupons,
		Kxp:          sk.kxp,
		HipEstAccum:  sk.hipEstAccum,
	}
	if sk.slidingWindow != nil {
		cs.SlidingWindow = append([]byte(nil), sk.slidingWindow...)
	}
	if sk.pairTable != nil {
		pt, err := sk.pairTable.copy()
		if err != nil {
			return nil, err
		}
		cs.PairTable = pt
	}
	return cs, nil
}

// Uncompress reconstructs a sketch from a snapshot, validating that seed
// hashes to the same value the snapshot was taken under.
func Uncompress(cs *CpcCompressedState, seed uint64) (*CpcSketch, error) {
	if computeSeedHash(seed) != cs.SeedHash {
		return nil, fmt.Errorf("seed hash mismatch: snapshot was taken with a different seed")
	}
	sk, err := NewCpcSketch(cs.LgK, seed)
	if err != nil {
		return nil, err
	}
	sk.fiCol = cs.FiCol
	sk.windowOffset = cs.WindowOffset
	sk.mergeFlag = cs.MergeFlag
	sk.numCoupons = cs.NumCoupons
	sk.kxp = cs.Kxp
	sk.hipEstAccum = cs.HipEstAccum
	if cs.SlidingWindow != nil {
		sk.slidingWindow = append([]byte(nil), cs.SlidingWindow...)
	}
	if cs.PairTable != nil {
		pt, err := cs.PairTable.copy()
		if err != nil {
			return nil, err
		}
		sk.pairTable = pt
	}
	return sk, nil
}
