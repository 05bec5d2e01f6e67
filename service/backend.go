// Copyright 2024 The Armored Witness OS authors. All Rights Reserved.
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

package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/transparency-dev/armored-witness-spm/api/rpc"
	"github.com/transparency-dev/armored-witness-spm/operation"
)

// Backend state is serialized in the operation context storage between
// requests, every layout starts with the algorithm identifier.

var errContext = errors.New("corrupted operation context")

func newHash(alg rpc.Algorithm) (hash.Hash, error) {
	switch alg {
	case rpc.SHA256:
		return sha256.New(), nil
	case rpc.BLAKE2b_256:
		return blake2b.New256(nil)
	}

	return nil, fmt.Errorf("%w, %s hash", operation.StatusNotSupported, alg)
}

// saveHash stores a hash state as alg(1) || len(2) || state.
func saveHash(buf []byte, alg rpc.Algorithm, h hash.Hash) error {
	m, ok := h.(encoding.BinaryMarshaler)

	if !ok {
		return fmt.Errorf("%w, %s state not serializable", operation.StatusNotSupported, alg)
	}

	state, err := m.MarshalBinary()

	if err != nil {
		return err
	}

	if 3+len(state) > len(buf) {
		return fmt.Errorf("%w, %s state", operation.StatusInsufficientMemory, alg)
	}

	buf[0] = byte(alg)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(state)))
	copy(buf[3:], state)

	clear(state)

	return nil
}

func loadHash(buf []byte) (alg rpc.Algorithm, h hash.Hash, err error) {
	if len(buf) < 3 {
		return 0, nil, errContext
	}

	alg = rpc.Algorithm(buf[0])

	if h, err = newHash(alg); err != nil {
		return
	}

	size := int(binary.BigEndian.Uint16(buf[1:3]))

	if 3+size > len(buf) {
		return 0, nil, errContext
	}

	u, ok := h.(encoding.BinaryUnmarshaler)

	if !ok {
		return 0, nil, errContext
	}

	if err = u.UnmarshalBinary(buf[3 : 3+size]); err != nil {
		return 0, nil, fmt.Errorf("%w, %v", errContext, err)
	}

	return
}

// HMAC-SHA256 state layout: alg(1) || key block(64) || inner hash state
const macKey = 1

func macPad(key []byte, pad byte) []byte {
	block := make([]byte, sha256.BlockSize)

	for i := range block {
		block[i] = key[i] ^ pad
	}

	return block
}

func setupMAC(buf []byte, alg rpc.Algorithm, key []byte) error {
	if alg != rpc.HMAC_SHA256 {
		return fmt.Errorf("%w, %s MAC", operation.StatusNotSupported, alg)
	}

	if len(key) == 0 {
		return fmt.Errorf("%w, empty MAC key", operation.StatusInvalidArgument)
	}

	if len(key) > sha256.BlockSize {
		sum := sha256.Sum256(key)
		key = sum[:]
	}

	k := buf[macKey : macKey+sha256.BlockSize]
	clear(k)
	copy(k, key)

	inner := sha256.New()
	ipad := macPad(k, 0x36)
	inner.Write(ipad)
	clear(ipad)

	buf[0] = byte(alg)

	return saveHash(buf[macKey+sha256.BlockSize:], rpc.SHA256, inner)
}

func updateMAC(buf []byte, data []byte) error {
	if rpc.Algorithm(buf[0]) != rpc.HMAC_SHA256 {
		return errContext
	}

	state := buf[macKey+sha256.BlockSize:]
	_, inner, err := loadHash(state)

	if err != nil {
		return err
	}

	inner.Write(data)

	return saveHash(state, rpc.SHA256, inner)
}

func finishMAC(buf []byte) ([]byte, error) {
	if rpc.Algorithm(buf[0]) != rpc.HMAC_SHA256 {
		return nil, errContext
	}

	_, inner, err := loadHash(buf[macKey+sha256.BlockSize:])

	if err != nil {
		return nil, err
	}

	opad := macPad(buf[macKey:macKey+sha256.BlockSize], 0x5c)
	defer clear(opad)

	outer := sha256.New()
	outer.Write(opad)
	outer.Write(inner.Sum(nil))

	return outer.Sum(nil), nil
}

// AES-CTR state layout: alg(1) || key length(1) || key(32) || iv(16) || offset(8)
const (
	cipherKeyLen = 1
	cipherKey    = 2
	cipherIV     = cipherKey + 32
	cipherOffset = cipherIV + aes.BlockSize
)

func setupCipher(buf []byte, alg rpc.Algorithm, key []byte, iv []byte) error {
	if alg != rpc.AES_CTR {
		return fmt.Errorf("%w, %s cipher", operation.StatusNotSupported, alg)
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w, invalid AES key size %d", operation.StatusInvalidArgument, len(key))
	}

	if len(iv) != aes.BlockSize {
		return fmt.Errorf("%w, invalid IV size %d", operation.StatusInvalidArgument, len(iv))
	}

	buf[0] = byte(alg)
	buf[cipherKeyLen] = byte(len(key))
	copy(buf[cipherKey:], key)
	copy(buf[cipherIV:], iv)
	binary.BigEndian.PutUint64(buf[cipherOffset:], 0)

	return nil
}

// counter returns the CTR counter block for a keystream offset.
func counter(iv []byte, offset uint64) []byte {
	ctr := make([]byte, aes.BlockSize)
	copy(ctr, iv)

	hi := binary.BigEndian.Uint64(ctr[0:8])
	lo := binary.BigEndian.Uint64(ctr[8:16])

	blocks := offset / aes.BlockSize
	sum := lo + blocks

	if sum < lo {
		hi++
	}

	binary.BigEndian.PutUint64(ctr[0:8], hi)
	binary.BigEndian.PutUint64(ctr[8:16], sum)

	return ctr
}

func updateCipher(buf []byte, in []byte) ([]byte, error) {
	if rpc.Algorithm(buf[0]) != rpc.AES_CTR {
		return nil, errContext
	}

	n := int(buf[cipherKeyLen])

	if n > 32 {
		return nil, errContext
	}

	block, err := aes.NewCipher(buf[cipherKey : cipherKey+n])

	if err != nil {
		return nil, fmt.Errorf("%w, %v", errContext, err)
	}

	offset := binary.BigEndian.Uint64(buf[cipherOffset:])
	stream := cipher.NewCTR(block, counter(buf[cipherIV:cipherIV+aes.BlockSize], offset))

	if skip := offset % aes.BlockSize; skip != 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}

	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)

	binary.BigEndian.PutUint64(buf[cipherOffset:], offset+uint64(len(in)))

	return out, nil
}

// HKDF-SHA256 state layout: alg(1) || PRK(32) || offset(2) || info length(1) || info
const (
	genPRK     = 1
	genOffset  = genPRK + sha256.Size
	genInfoLen = genOffset + 2
	genInfo    = genInfoLen + 1

	// MaxInfoSize is the maximum HKDF info size.
	MaxInfoSize = operation.GeneratorContextSize - genInfo

	// MaxGeneratorOutput is the maximum HKDF-SHA256 output size.
	MaxGeneratorOutput = 255 * sha256.Size
)

func setupGenerator(buf []byte, alg rpc.Algorithm, secret []byte, salt []byte, info []byte) error {
	if alg != rpc.HKDF_SHA256 {
		return fmt.Errorf("%w, %s generator", operation.StatusNotSupported, alg)
	}

	if len(secret) == 0 {
		return fmt.Errorf("%w, empty secret", operation.StatusInvalidArgument)
	}

	if len(info) > MaxInfoSize {
		return fmt.Errorf("%w, info exceeds %d bytes", operation.StatusInvalidArgument, MaxInfoSize)
	}

	prk := hkdf.Extract(sha256.New, secret, salt)
	defer clear(prk)

	buf[0] = byte(alg)
	copy(buf[genPRK:], prk)
	binary.BigEndian.PutUint16(buf[genOffset:], 0)
	buf[genInfoLen] = byte(len(info))
	copy(buf[genInfo:], info)

	return nil
}

func readGenerator(buf []byte, size int) ([]byte, error) {
	if rpc.Algorithm(buf[0]) != rpc.HKDF_SHA256 {
		return nil, errContext
	}

	offset := int(binary.BigEndian.Uint16(buf[genOffset:]))
	n := int(buf[genInfoLen])

	if size < 0 || offset+size > MaxGeneratorOutput {
		return nil, fmt.Errorf("%w, output exceeds %d bytes", operation.StatusInsufficientMemory, MaxGeneratorOutput)
	}

	r := hkdf.Expand(sha256.New, buf[genPRK:genPRK+sha256.Size], buf[genInfo:genInfo+n])

	if _, err := io.CopyN(io.Discard, r, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w, %v", errContext, err)
	}

	out := make([]byte, size)

	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	binary.BigEndian.PutUint16(buf[genOffset:], uint16(offset+size))

	return out, nil
}
