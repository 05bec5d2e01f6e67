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

// Package service implements the secure crypto service, dispatching client
// requests to operation contexts held in an operation.Pool.
//
// Crypto is a net/rpc receiver: every multi-part operation is started by a
// Setup request returning an opaque handle, fed by Update requests and
// terminated by a Finish or Abort request releasing the handle.
package service

import (
	"errors"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/api/rpc"
	"github.com/transparency-dev/armored-witness-spm/operation"
)

// Crypto represents the secure crypto service RPC receiver.
type Crypto struct {
	Pool *operation.Pool
}

// setup allocates an operation of type t and initializes its context with
// fn, the operation is released on failure.
func (c *Crypto) setup(t operation.Type, h *operation.Handle, fn func(buf []byte) error) (err error) {
	if h == nil {
		return operation.ErrInvalidArgument
	}

	*h, err = c.Pool.Setup(t, fn)

	if errors.Is(err, operation.ErrNotPermitted) {
		klog.Warningf("SM rejecting %s operation, all slots in use", t)
	}

	return
}

// securityEvent logs handle misuse, errors returned by backends are not
// reported.
func securityEvent(t operation.Type, h operation.Handle, err error, backend bool) {
	if err != nil && !backend {
		klog.Warningf("SM security event, %s operation lookup with handle %s, %v", t, h, err)
	}
}

// use runs fn on the context of an operation, with the pool locked.
func (c *Crypto) use(t operation.Type, h operation.Handle, fn func(buf []byte) error) (err error) {
	var backend bool

	defer func() { securityEvent(t, h, err, backend) }()

	return c.Pool.Use(t, h, func(buf []byte) error {
		backend = true
		return fn(buf)
	})
}

// finish runs fn, when not nil, on the context of an operation and releases
// it regardless of the outcome.
func (c *Crypto) finish(t operation.Type, h operation.Handle, fn func(buf []byte) error) (err error) {
	var backend bool

	defer func(h operation.Handle) { securityEvent(t, h, err, backend) }(h)

	return c.Pool.Finish(t, &h, func(buf []byte) error {
		backend = true

		if fn == nil {
			return nil
		}

		return fn(buf)
	})
}

// HashSetup starts a hash operation.
func (c *Crypto) HashSetup(req rpc.HashSetup, h *operation.Handle) error {
	return c.setup(operation.Hash, h, func(buf []byte) error {
		d, err := newHash(req.Algorithm)

		if err != nil {
			return err
		}

		return saveHash(buf, req.Algorithm, d)
	})
}

// HashUpdate adds data to a hash operation.
func (c *Crypto) HashUpdate(req rpc.Update, _ *bool) error {
	return c.use(operation.Hash, req.Handle, func(buf []byte) error {
		alg, d, err := loadHash(buf)

		if err != nil {
			return err
		}

		d.Write(req.Data)

		return saveHash(buf, alg, d)
	})
}

// HashFinish returns the digest of a hash operation and releases it.
func (c *Crypto) HashFinish(h operation.Handle, digest *[]byte) error {
	return c.finish(operation.Hash, h, func(buf []byte) error {
		_, d, err := loadHash(buf)

		if err != nil {
			return err
		}

		if digest != nil {
			*digest = d.Sum(nil)
		}

		return nil
	})
}

// HashAbort releases a hash operation.
func (c *Crypto) HashAbort(h operation.Handle, _ *bool) error {
	return c.finish(operation.Hash, h, nil)
}

// MACSetup starts a MAC operation.
func (c *Crypto) MACSetup(req rpc.MACSetup, h *operation.Handle) error {
	return c.setup(operation.MAC, h, func(buf []byte) error {
		return setupMAC(buf, req.Algorithm, req.Key)
	})
}

// MACUpdate adds data to a MAC operation.
func (c *Crypto) MACUpdate(req rpc.Update, _ *bool) error {
	return c.use(operation.MAC, req.Handle, func(buf []byte) error {
		return updateMAC(buf, req.Data)
	})
}

// MACFinish returns the tag of a MAC operation and releases it.
func (c *Crypto) MACFinish(h operation.Handle, tag *[]byte) error {
	return c.finish(operation.MAC, h, func(buf []byte) (err error) {
		t, err := finishMAC(buf)

		if err == nil && tag != nil {
			*tag = t
		}

		return
	})
}

// MACAbort releases a MAC operation.
func (c *Crypto) MACAbort(h operation.Handle, _ *bool) error {
	return c.finish(operation.MAC, h, nil)
}

// CipherSetup starts a cipher operation.
func (c *Crypto) CipherSetup(req rpc.CipherSetup, h *operation.Handle) error {
	return c.setup(operation.Cipher, h, func(buf []byte) error {
		return setupCipher(buf, req.Algorithm, req.Key, req.IV)
	})
}

// CipherUpdate encrypts, or decrypts, data within a cipher operation.
func (c *Crypto) CipherUpdate(req rpc.Update, out *[]byte) error {
	return c.use(operation.Cipher, req.Handle, func(buf []byte) error {
		res, err := updateCipher(buf, req.Data)

		if err == nil && out != nil {
			*out = res
		}

		return err
	})
}

// CipherFinish releases a cipher operation.
func (c *Crypto) CipherFinish(h operation.Handle, _ *bool) error {
	return c.finish(operation.Cipher, h, nil)
}

// GeneratorSetup starts a key derivation operation.
func (c *Crypto) GeneratorSetup(req rpc.GeneratorSetup, h *operation.Handle) error {
	return c.setup(operation.Generator, h, func(buf []byte) error {
		return setupGenerator(buf, req.Algorithm, req.Secret, req.Salt, req.Info)
	})
}

// GeneratorRead returns the next bytes of a key derivation output.
func (c *Crypto) GeneratorRead(req rpc.GeneratorRead, out *[]byte) error {
	return c.use(operation.Generator, req.Handle, func(buf []byte) error {
		res, err := readGenerator(buf, req.Size)

		if err == nil && out != nil {
			*out = res
		}

		return err
	})
}

// GeneratorAbort releases a key derivation operation.
func (c *Crypto) GeneratorAbort(h operation.Handle, _ *bool) error {
	return c.finish(operation.Generator, h, nil)
}

// Operations returns the number of in-flight operations.
func (c *Crypto) Operations(_ any, n *int) error {
	if n == nil {
		return operation.ErrInvalidArgument
	}

	*n = c.Pool.InUse()

	return nil
}
