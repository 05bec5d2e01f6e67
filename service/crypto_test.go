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
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"net"
	"net/rpc"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	api "github.com/transparency-dev/armored-witness-spm/api/rpc"
	"github.com/transparency-dev/armored-witness-spm/operation"
)

func newCrypto() *Crypto {
	return &Crypto{Pool: operation.NewPool()}
}

func TestHash(t *testing.T) {
	data := [][]byte{
		[]byte("The quick brown fox "),
		[]byte("jumps over "),
		bytes.Repeat([]byte("the lazy dog"), 20),
	}
	all := bytes.Join(data, nil)

	sha := sha256.Sum256(all)
	b2b := blake2b.Sum256(all)

	for _, test := range []struct {
		name string
		alg  api.Algorithm
		want []byte
	}{
		{name: "SHA-256", alg: api.SHA256, want: sha[:]},
		{name: "BLAKE2b-256", alg: api.BLAKE2b_256, want: b2b[:]},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := newCrypto()

			var h operation.Handle
			require.NoError(t, c.HashSetup(api.HashSetup{Algorithm: test.alg}, &h))

			for _, d := range data {
				require.NoError(t, c.HashUpdate(api.Update{Handle: h, Data: d}, nil))
			}

			var digest []byte
			require.NoError(t, c.HashFinish(h, &digest))
			require.Equal(t, test.want, digest)
			require.Zero(t, c.Pool.InUse())

			// finished operations can no longer be referenced
			require.ErrorIs(t, c.HashUpdate(api.Update{Handle: h}, nil), operation.ErrBadState)
		})
	}
}

func TestHashUnsupported(t *testing.T) {
	c := newCrypto()

	var h operation.Handle
	err := c.HashSetup(api.HashSetup{Algorithm: api.AES_CTR}, &h)
	require.ErrorIs(t, err, operation.StatusNotSupported)
	require.Equal(t, operation.InvalidHandle, h)
	require.Zero(t, c.Pool.InUse())
}

func TestHandleConfusion(t *testing.T) {
	c := newCrypto()

	var h operation.Handle
	require.NoError(t, c.HashSetup(api.HashSetup{Algorithm: api.SHA256}, &h))

	var out []byte
	require.ErrorIs(t, c.CipherUpdate(api.Update{Handle: h, Data: []byte{0}}, &out), operation.ErrBadState)
	require.ErrorIs(t, c.MACFinish(h, &out), operation.ErrBadState)
	require.ErrorIs(t, c.GeneratorRead(api.GeneratorRead{Handle: h, Size: 1}, &out), operation.ErrBadState)
	require.Nil(t, out)

	// the hash operation is unaffected
	require.Equal(t, 1, c.Pool.InUse())
	require.NoError(t, c.HashAbort(h, nil))
	require.Zero(t, c.Pool.InUse())
}

func TestExhaustion(t *testing.T) {
	c := newCrypto()

	for i := 0; i < operation.ConcurrentOperations; i++ {
		var h operation.Handle
		require.NoError(t, c.HashSetup(api.HashSetup{Algorithm: api.SHA256}, &h))
		require.Equal(t, operation.Handle(i), h)
	}

	var h operation.Handle
	err := c.MACSetup(api.MACSetup{Algorithm: api.HMAC_SHA256, Key: []byte("key")}, &h)
	require.ErrorIs(t, err, operation.ErrNotPermitted)
	require.Equal(t, operation.InvalidHandle, h)

	require.NoError(t, c.HashAbort(5, nil))
	require.NoError(t, c.MACSetup(api.MACSetup{Algorithm: api.HMAC_SHA256, Key: []byte("key")}, &h))
	require.Equal(t, operation.Handle(5), h)
}

func TestMAC(t *testing.T) {
	for _, test := range []struct {
		name string
		key  []byte
	}{
		{name: "short key", key: []byte("secret")},
		{name: "block key", key: bytes.Repeat([]byte{0x0b}, sha256.BlockSize)},
		{name: "long key", key: bytes.Repeat([]byte{0xaa}, 131)},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := newCrypto()
			msg := []byte("Test Using Larger Than Block-Size Key - Hash Key First")

			mac := hmac.New(sha256.New, test.key)
			mac.Write(msg)

			var h operation.Handle
			require.NoError(t, c.MACSetup(api.MACSetup{Algorithm: api.HMAC_SHA256, Key: test.key}, &h))
			require.NoError(t, c.MACUpdate(api.Update{Handle: h, Data: msg[:10]}, nil))
			require.NoError(t, c.MACUpdate(api.Update{Handle: h, Data: msg[10:]}, nil))

			var tag []byte
			require.NoError(t, c.MACFinish(h, &tag))
			require.Equal(t, mac.Sum(nil), tag)
		})
	}
}

func TestCipher(t *testing.T) {
	c := newCrypto()

	key := bytes.Repeat([]byte{0x2b}, 16)
	iv := []byte{0xf0, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff}
	plaintext := bytes.Repeat([]byte("0123456789"), 10)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	want := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(want, plaintext)

	var h operation.Handle
	require.NoError(t, c.CipherSetup(api.CipherSetup{Algorithm: api.AES_CTR, Key: key, IV: iv}, &h))

	var got []byte

	// chunks not aligned to the block size
	for _, chunk := range [][]byte{plaintext[:7], plaintext[7:40], plaintext[40:]} {
		var out []byte
		require.NoError(t, c.CipherUpdate(api.Update{Handle: h, Data: chunk}, &out))
		got = append(got, out...)
	}

	require.Equal(t, want, got)
	require.NoError(t, c.CipherFinish(h, nil))

	require.ErrorIs(t, c.CipherSetup(api.CipherSetup{Algorithm: api.AES_CTR, Key: key[:5], IV: iv}, &h), operation.StatusInvalidArgument)
	require.Zero(t, c.Pool.InUse())
}

func TestCounterCarry(t *testing.T) {
	iv := bytes.Repeat([]byte{0xff}, aes.BlockSize)
	ctr := counter(iv, 2*aes.BlockSize)

	// the 128-bit counter wraps around
	want := append(bytes.Repeat([]byte{0}, aes.BlockSize-1), 1)
	require.Equal(t, want, ctr)
}

func TestGenerator(t *testing.T) {
	c := newCrypto()

	secret := []byte("input keying material")
	salt := []byte("salt")
	info := []byte("context")

	want := make([]byte, 100)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), want)
	require.NoError(t, err)

	var h operation.Handle
	require.NoError(t, c.GeneratorSetup(api.GeneratorSetup{Algorithm: api.HKDF_SHA256, Secret: secret, Salt: salt, Info: info}, &h))

	var got []byte
	for _, n := range []int{13, 32, 55} {
		var out []byte
		require.NoError(t, c.GeneratorRead(api.GeneratorRead{Handle: h, Size: n}, &out))
		got = append(got, out...)
	}

	require.Equal(t, want, got)

	var out []byte
	require.Error(t, c.GeneratorRead(api.GeneratorRead{Handle: h, Size: MaxGeneratorOutput}, &out))
	require.NoError(t, c.GeneratorAbort(h, nil))
	require.ErrorIs(t, c.GeneratorAbort(h, nil), operation.ErrBadState)
}

func TestRPC(t *testing.T) {
	c := newCrypto()
	server := rpc.NewServer()
	require.NoError(t, server.Register(c))

	sc, cc := net.Pipe()
	go server.ServeConn(sc)

	client := rpc.NewClient(cc)
	defer client.Close()

	var h operation.Handle
	require.NoError(t, client.Call("Crypto.HashSetup", api.HashSetup{Algorithm: api.SHA256}, &h))
	require.NoError(t, client.Call("Crypto.HashUpdate", api.Update{Handle: h, Data: []byte("abc")}, new(bool)))

	var n int
	require.NoError(t, c.Operations(nil, &n))
	require.Equal(t, 1, n)

	var digest []byte
	require.NoError(t, client.Call("Crypto.HashFinish", h, &digest))

	want := sha256.Sum256([]byte("abc"))
	require.Equal(t, want[:], digest)

	err := client.Call("Crypto.HashFinish", h, &digest)
	require.EqualError(t, err, operation.ErrBadState.Error())
}

func TestConcurrentUpdateAndAbort(t *testing.T) {
	c := newCrypto()
	empty := sha256.Sum256(nil)

	for i := 0; i < 50; i++ {
		var h operation.Handle
		require.NoError(t, c.HashSetup(api.HashSetup{Algorithm: api.SHA256}, &h))

		var wg sync.WaitGroup

		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				for k := 0; k < 10; k++ {
					// fails with ErrBadState once aborted
					_ = c.HashUpdate(api.Update{Handle: h, Data: []byte("data")}, nil)
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.HashAbort(h, nil))
		}()

		wg.Wait()
		require.Zero(t, c.Pool.InUse())

		err := c.HashUpdate(api.Update{Handle: h, Data: []byte("data")}, nil)
		require.ErrorIs(t, err, operation.ErrBadState)

		// the slot is reused and must not carry any aborted state
		var next operation.Handle
		require.NoError(t, c.HashSetup(api.HashSetup{Algorithm: api.SHA256}, &next))
		require.Equal(t, h, next)

		var digest []byte
		require.NoError(t, c.HashFinish(next, &digest))
		require.Equal(t, empty[:], digest)
	}
}
