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

// Package rpc defines the secure crypto service request types.
package rpc

import (
	"fmt"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-spm/operation"
)

// Algorithm represents a cryptographic algorithm identifier.
type Algorithm uint8

const (
	SHA256 Algorithm = iota + 1
	BLAKE2b_256
	HMAC_SHA256
	AES_CTR
	HKDF_SHA256
)

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "SHA-256"
	case BLAKE2b_256:
		return "BLAKE2b-256"
	case HMAC_SHA256:
		return "HMAC-SHA256"
	case AES_CTR:
		return "AES-CTR"
	case HKDF_SHA256:
		return "HKDF-SHA256"
	}

	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// HashSetup represents an RPC hash operation setup request.
type HashSetup struct {
	Algorithm Algorithm
}

// MACSetup represents an RPC MAC operation setup request.
type MACSetup struct {
	Algorithm Algorithm
	Key       []byte
}

// CipherSetup represents an RPC cipher operation setup request.
type CipherSetup struct {
	Algorithm Algorithm
	Key       []byte
	IV        []byte
}

// GeneratorSetup represents an RPC key derivation operation setup request.
type GeneratorSetup struct {
	Algorithm Algorithm
	Secret    []byte
	Salt      []byte
	Info      []byte
}

// Update represents an RPC request to feed data into an operation.
type Update struct {
	Handle operation.Handle
	Data   []byte
}

// GeneratorRead represents an RPC request for key derivation output.
type GeneratorRead struct {
	Handle operation.Handle
	Size   int
}

// Probe represents an RPC request to evaluate a bus access against the
// configured boundary.
type Probe struct {
	Addr uint32
	// NonSecure selects the Non-Secure world as the access originator
	NonSecure bool
	// Access is one of "read", "write" or "execute"
	Access string
}

// InstalledVersions represents the running secure partition version.
type InstalledVersions struct {
	OS semver.Version
}
