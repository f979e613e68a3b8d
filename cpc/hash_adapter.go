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
	"math"
	"unsafe"

	"github.com/sampan-dong/sketches-core/internal"
	"github.com/twmb/murmur3"
)

// hash produces the 128-bit seeded mix of bs that every typed Update method
// ultimately feeds to the update engine.
func hash(bs []byte, seed uint64) (uint64, uint64) {
	return murmur3.SeedSum128(seed, seed, bs)
}

// UpdateUint64 presents the given 64-bit integer as a potential unique item.
func (c *CpcSketch) UpdateUint64(datum uint64) error {
	binary.LittleEndian.PutUint64(c.scratch[:], datum)
	hashLo, hashHi := hash(c.scratch[:], c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

// UpdateInt64 presents the given 64-bit integer as a potential unique item.
func (c *CpcSketch) UpdateInt64(datum int64) error {
	return c.UpdateUint64(uint64(datum))
}

// UpdateFloat64 presents the given double as a potential unique item.
// Plus and minus zero are canonicalized to the same coupon, and every NaN
// bit pattern is canonicalized to math.NaN()'s, so any NaN collapses to one
// coupon as well.
func (c *CpcSketch) UpdateFloat64(datum float64) error {
	if datum == 0 {
		datum = 0 // canonicalize -0.0 to +0.0
	}
	if math.IsNaN(datum) {
		datum = math.NaN() // canonicalize all NaN bit patterns
	}
	binary.LittleEndian.PutUint64(c.scratch[:], math.Float64bits(datum))
	hashLo, hashHi := hash(c.scratch[:], c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

// UpdateByteSlice presents the given byte sequence as a potential unique
// item. A nil or empty slice is a documented no-op.
func (c *CpcSketch) UpdateByteSlice(datum []byte) error {
	if len(datum) == 0 {
		return nil
	}
	hashLo, hashHi := hash(datum, c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

// UpdateString presents the given string, UTF-8 encoded, as a potential
// unique item. An empty string is a documented no-op. This deliberately
// hashes different bytes than UpdateCharSlice on the same text.
func (c *CpcSketch) UpdateString(datum string) error {
	if len(datum) == 0 {
		return nil
	}
	// get a slice to the string data, avoiding a copy to heap
	return c.UpdateByteSlice(unsafe.Slice(unsafe.StringData(datum), len(datum)))
}

// UpdateCharSlice presents the given sequence of UTF-16 code units as a
// potential unique item, hashing the raw code units (two bytes each,
// little-endian) rather than any text encoding. A nil or empty slice is a
// documented no-op. This is deliberately not equivalent to UpdateString on
// the same text.
func (c *CpcSketch) UpdateCharSlice(datum []uint16) error {
	if len(datum) == 0 {
		return nil
	}
	buf := make([]byte, 2*len(datum))
	for i, ch := range datum {
		binary.LittleEndian.PutUint16(buf[2*i:], ch)
	}
	hashLo, hashHi := hash(buf, c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

// UpdateInt32Slice presents the given sequence of 32-bit integers as a
// potential unique item. A nil or empty slice is a documented no-op.
func (c *CpcSketch) UpdateInt32Slice(datum []int32) error {
	if len(datum) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(datum))
	for i, v := range datum {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	hashLo, hashHi := hash(buf, c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

// UpdateInt64Slice presents the given sequence of 64-bit integers as a
// potential unique item. A nil or empty slice is a documented no-op.
func (c *CpcSketch) UpdateInt64Slice(datum []int64) error {
	if len(datum) == 0 {
		return nil
	}
	hashLo, hashHi := internal.HashInt64SliceMurmur3(datum, 0, len(datum), c.seed)
	return c.hashUpdate(hashLo, hashHi)
}
