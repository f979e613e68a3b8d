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
	"math/bits"
)

// hashUpdate derives a coupon from a 128-bit hash and routes it into the
// state machine. It is also exercised directly by tests.
func (c *CpcSketch) hashUpdate(hash0, hash1 uint64) error {
	kMask := (uint64(1) << c.lgK) - 1
	col := bits.LeadingZeros64(hash1)
	if col > 63 {
		col = 63 // clip so that 0 <= col <= 63
	}
	row := int(hash0 & kMask)
	rowCol := (row << 6) | col

	// Guard against the hash table's "empty" value (-1) by clearing the LSB
	// of row. With a 64-bit int, rowCol is never negative (the largest cell,
	// (2^26-1, 63), is 2^32-1), so this branch never runs.
	if rowCol == -1 {
		rowCol ^= 1 << 6 // clear the LSB of row
	}
	return c.rowColUpdate(rowCol)
}

// rowColUpdate admits a single coupon into the sketch, promoting or
// shifting the window as needed. It is also exercised directly by tests.
func (c *CpcSketch) rowColUpdate(rowCol int) error {
	col := rowCol & 63
	if col < c.fiCol {
		return nil // important speed optimization
	}
	if c.numCoupons == 0 {
		c.promoteEmptyToSparse()
	}
	k := uint64(1) << c.lgK
	if (c.numCoupons << 5) < 3*k {
		return c.updateSparse(rowCol)
	}
	return c.updateWindowed(rowCol)
}

func (c *CpcSketch) promoteEmptyToSparse() {
	if c.numCoupons != 0 || c.pairTable != nil {
		panic("promoteEmptyToSparse: sketch already has state")
	}
	pt, err := NewPairTable(2, 6+c.lgK)
	if err != nil {
		// lgSizeInts=2 is always valid; a failure here is a bug, not a
		// runtime condition.
		panic(err)
	}
	c.pairTable = pt
}

func (c *CpcSketch) updateSparse(rowCol int) error {
	k := uint64(1) << c.lgK
	c32pre := c.numCoupons << 5
	if c32pre >= 3*k {
		return fmt.Errorf("updateSparse: C >= 3K/32, flavor is no longer SPARSE")
	}
	if c.pairTable == nil {
		return fmt.Errorf("updateSparse: pairTable is nil")
	}
	isNovel, err := c.pairTable.maybeInsert(rowCol)
	if err != nil {
		return err
	}
	if isNovel {
		c.numCoupons++
		c.updateHIP(rowCol)
		c32post := c.numCoupons << 5
		if c32post >= 3*k {
			if err := c.promoteSparseToWindowed(); err != nil {
				return err
			}
		}
	}
	return nil
}

// promoteSparseToWindowed converts a SPARSE sketch into HYBRID: the low 8
// columns of every surviving coupon move into a fresh sliding window, and
// everything else is reinserted into a fresh pair table.
func (c *CpcSketch) promoteSparseToWindowed() error {
	lgK := c.lgK
	k := 1 << lgK
	c32 := c.numCoupons << 5
	if !(c32 == 3*uint64(k) || (lgK == 4 && c32 > 3*uint64(k))) {
		return fmt.Errorf("promoteSparseToWindowed: unexpected numCoupons")
	}
	if c.windowOffset != 0 {
		return fmt.Errorf("promoteSparseToWindowed: windowOffset must be 0")
	}

	window := make([]byte, k)
	newTable, err := NewPairTable(2, 6+lgK)
	if err != nil {
		return err
	}

	oldTable := c.pairTable
	oldSlots := oldTable.slotsArr
	oldNumSlots := 1 << oldTable.lgSizeInts

	for i := 0; i < oldNumSlots; i++ {
		rowCol := oldSlots[i]
		if rowCol == -1 {
			continue
		}
		col := rowCol & 63
		if col < 8 {
			row := rowCol >> 6
			window[row] |= byte(1 << col)
		} else {
			isNovel, err := newTable.maybeInsert(rowCol)
			if err != nil {
				return err
			}
			if !isNovel {
				return fmt.Errorf("promoteSparseToWindowed: expected novel insert")
			}
		}
	}

	c.slidingWindow = window
	c.pairTable = newTable
	return nil
}

// updateWindowed admits a coupon while the sketch is HYBRID, PINNED or
// SLIDING. Which of the three zones (early surprising-0, window,
// late surprising-1) the column falls in is determined purely by its
// relationship to the current windowOffset, never by a mode flag.
func (c *CpcSketch) updateWindowed(rowCol int) error {
	if c.windowOffset < 0 || c.windowOffset > maxWindow {
		return fmt.Errorf("updateWindowed: windowOffset out of range: %d", c.windowOffset)
	}
	k := uint64(1) << c.lgK
	c32pre := c.numCoupons << 5
	if c32pre < 3*k {
		return fmt.Errorf("updateWindowed: C < 3K/32, flavor is still SPARSE")
	}
	c8pre := c.numCoupons << 3
	w8pre := uint64(c.windowOffset) << 3
	if c8pre >= (27+w8pre)*k {
		return fmt.Errorf("updateWindowed: admission threshold already exceeded")
	}

	col := rowCol & 63
	var isNovel bool
	var err error

	switch {
	case col < c.windowOffset:
		// surprising 0's before the window: presence means the bit is 0,
		// so deleting the entry flips it to 1 (novel).
		isNovel, err = c.pairTable.maybeDelete(rowCol)
		if err != nil {
			return err
		}
	case col < c.windowOffset+8:
		row := rowCol >> 6
		oldBits := c.slidingWindow[row]
		newBits := oldBits | byte(1<<(col-c.windowOffset))
		if newBits != oldBits {
			c.slidingWindow[row] = newBits
			isNovel = true
		}
	default:
		// surprising 1's after the window: normal presence logic.
		isNovel, err = c.pairTable.maybeInsert(rowCol)
		if err != nil {
			return err
		}
	}

	if isNovel {
		c.numCoupons++
		c.updateHIP(rowCol)
		c8post := c.numCoupons << 3
		if c8post >= (27+w8pre)*k {
			if err := c.modifyOffset(c.windowOffset + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateHIP folds one novel coupon into the incrementally-maintained HIP
// estimator: it adds 1/p (the inverse admission probability at this
// instant) to the accumulator, then removes this coupon's contribution
// from kxp.
func (c *CpcSketch) updateHIP(rowCol int) {
	k := float64(int64(1) << c.lgK)
	col := rowCol & 63
	oneOverP := k / c.kxp
	c.hipEstAccum += oneOverP
	c.kxp -= invPow2(col + 1) // note the "+1"
}

// bitMatrixOfSketch reconstructs the full K-by-64 logical bit matrix from
// the sketch's sparse and/or windowed state.
//
// Warning: this is called in transitional moments where the flavor/offset
// invariants are temporarily being re-established, so it must interpret
// the low-level fields "as is" rather than deriving them from
// determineFlavor/determineCorrectOffset.
func (c *CpcSketch) bitMatrixOfSketch() ([]uint64, error) {
	k := 1 << c.lgK
	offset := c.windowOffset
	if offset < 0 || offset > maxWindow {
		return nil, fmt.Errorf("bitMatrixOfSketch: windowOffset out of range: %d", offset)
	}

	matrix := make([]uint64, k)
	if c.numCoupons == 0 {
		return matrix, nil // all zeros
	}

	// Fill with the default row: the early zone is all 1's. Essential for
	// O(k) time (as opposed to O(C)).
	defaultRow := uint64(1)<<offset - 1
	for i := range matrix {
		matrix[i] = defaultRow
	}

	if c.slidingWindow != nil {
		for i := 0; i < k; i++ {
			matrix[i] |= uint64(c.slidingWindow[i]) << offset
		}
	}

	if c.pairTable == nil {
		return nil, fmt.Errorf("bitMatrixOfSketch: pairTable is nil with numCoupons > 0")
	}
	slots := c.pairTable.slotsArr
	numSlots := 1 << c.pairTable.lgSizeInts
	for i := 0; i < numSlots; i++ {
		rowCol := slots[i]
		if rowCol == -1 {
			continue
		}
		col := rowCol & 63
		row := rowCol >> 6
		// Flip the bit from its default: 1->0 in the early zone (a
		// surprising 0), 0->1 in the late zone (a surprising 1).
		matrix[row] ^= 1 << col
	}
	return matrix, nil
}

// refreshKXP recomputes the kxp register exactly (to double precision) from
// the full bit matrix, correcting for mantissa drift accumulated by many
// small per-update decrements. Summation proceeds from the least to the
// most significant byte: reversing this order silently degrades accuracy
// by several bits.
func (c *CpcSketch) refreshKXP(bitMatrix []uint64) {
	k := 1 << c.lgK

	// kxp is K minus the weights of the set bits, i.e. the sum of the weights
	// of the unset bits, so each byte is complemented before the lookup.
	var byteSums [8]float64
	for i := 0; i < k; i++ {
		row := bitMatrix[i]
		for j := 0; j < 8; j++ {
			byteSums[j] += kxpByteLookup[^row&0xFF]
			row >>= 8
		}
	}

	var total float64
	// Includes byteSums[7] (weight 2^-56); upstream's loop bound excludes it,
	// a difference below double precision's noise floor at this magnitude.
	for j := 7; j >= 0; j-- {
		total += invPow2(8*j) * byteSums[j]
	}
	c.kxp = total
}

// modifyOffset performs the O(K) window shift: it rebuilds the bit matrix,
// optionally refreshes kxp, then re-encodes every row at the new offset.
func (c *CpcSketch) modifyOffset(newOffset int) error {
	if newOffset < 0 || newOffset > maxWindow {
		return fmt.Errorf("modifyOffset: newOffset out of range: %d", newOffset)
	}
	if newOffset != c.windowOffset+1 {
		return fmt.Errorf("modifyOffset: newOffset must be windowOffset+1")
	}
	if newOffset != determineCorrectOffset(c.lgK, c.numCoupons) {
		return fmt.Errorf("modifyOffset: newOffset does not match determineCorrectOffset")
	}
	if c.slidingWindow == nil || c.pairTable == nil {
		return fmt.Errorf("modifyOffset: sketch must already be windowed")
	}
	k := 1 << c.lgK

	bitMatrix, err := c.bitMatrixOfSketch()
	if err != nil {
		return err
	}

	if newOffset&0x7 == 0 {
		c.refreshKXP(bitMatrix)
	}

	c.pairTable.clear()
	window := c.slidingWindow
	maskForClearingWindow := int64(0xFF<<newOffset) ^ -1
	maskForFlippingEarlyZone := int64(1<<newOffset) - 1
	var allSurprisesORed uint64

	for i := 0; i < k; i++ {
		pattern := int64(bitMatrix[i])
		window[i] = byte((bitMatrix[i] >> newOffset) & 0xFF)
		pattern &= maskForClearingWindow
		// Converts surprising 0's to 1's in the early zone (and vice
		// versa); essential for this loop's O(k) cost.
		pattern ^= maskForFlippingEarlyZone
		allSurprisesORed |= uint64(pattern)
		for pattern != 0 {
			col := bits.TrailingZeros64(uint64(pattern))
			pattern ^= 1 << col
			rowCol := (i << 6) | col
			isNovel, err := c.pairTable.maybeInsert(rowCol)
			if err != nil {
				return err
			}
			if !isNovel {
				return fmt.Errorf("modifyOffset: expected novel insert at row=%d col=%d", i, col)
			}
		}
	}

	c.windowOffset = newOffset
	c.fiCol = bits.TrailingZeros64(allSurprisesORed)
	if c.fiCol > newOffset {
		c.fiCol = newOffset // corner case: allSurprisesORed was zero
	}
	return nil
}
