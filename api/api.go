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

// Package api defines the secure partition status report exchanged with
// host tooling, serialized as the Status message of api.proto.
package api

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"golang.org/x/mod/sumdb/note"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Area represents a classified address range.
type Area struct {
	Memory      string
	Base        uint32
	Limit       uint32
	Attribution string
	Locked      bool
}

// Status represents the secure partition status.
type Status struct {
	Version  string
	Revision string
	Build    string

	// Debug is the applied debug authentication policy
	Debug string
	// Sealed reports whether the boundary configuration is complete
	Sealed bool
	// Areas is the flash and RAM attribution map
	Areas []Area
	// Peripherals lists the Non-Secure peripheral IDs
	Peripherals []uint32
	// Operations is the number of in-flight cryptographic operations
	Operations uint32
	// Violations is the number of handled security violations
	Violations uint32
}

func setString(m protoreflect.Message, name protoreflect.Name, s string) {
	if len(s) > 0 {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfString(s))
	}
}

func setUint32(m protoreflect.Message, name protoreflect.Name, v uint32) {
	if v != 0 {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfUint32(v))
	}
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	if v {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfBool(v))
	}
}

func get(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(name))
}

func (a *Area) fill(m protoreflect.Message) {
	setString(m, "memory", a.Memory)
	setUint32(m, "base", a.Base)
	setUint32(m, "limit", a.Limit)
	setString(m, "attribution", a.Attribution)
	setBool(m, "locked", a.Locked)
}

func (a *Area) load(m protoreflect.Message) {
	*a = Area{
		Memory:      get(m, "memory").String(),
		Base:        uint32(get(m, "base").Uint()),
		Limit:       uint32(get(m, "limit").Uint()),
		Attribution: get(m, "attribution").String(),
		Locked:      get(m, "locked").Bool(),
	}
}

func (p *Status) message() proto.Message {
	m := dynamicpb.NewMessage(statusDesc)

	setString(m, "version", p.Version)
	setString(m, "revision", p.Revision)
	setString(m, "build", p.Build)
	setString(m, "debug", p.Debug)
	setBool(m, "sealed", p.Sealed)

	if len(p.Areas) > 0 {
		areas := m.Mutable(statusDesc.Fields().ByName("areas")).List()

		for _, a := range p.Areas {
			v := areas.NewElement()
			a.fill(v.Message())
			areas.Append(v)
		}
	}

	if len(p.Peripherals) > 0 {
		ids := m.Mutable(statusDesc.Fields().ByName("peripherals")).List()

		for _, id := range p.Peripherals {
			ids.Append(protoreflect.ValueOfUint32(id))
		}
	}

	setUint32(m, "operations", p.Operations)
	setUint32(m, "violations", p.Violations)

	return m
}

// Bytes serializes the status, fields are emitted in number order.
func (p *Status) Bytes() (buf []byte) {
	buf, _ = proto.MarshalOptions{Deterministic: true}.Marshal(p.message())
	return
}

// Unmarshal parses a serialized status.
func (p *Status) Unmarshal(b []byte) error {
	m := dynamicpb.NewMessage(statusDesc)

	if err := proto.Unmarshal(b, m); err != nil {
		return err
	}

	*p = Status{
		Version:    get(m, "version").String(),
		Revision:   get(m, "revision").String(),
		Build:      get(m, "build").String(),
		Debug:      get(m, "debug").String(),
		Sealed:     get(m, "sealed").Bool(),
		Operations: uint32(get(m, "operations").Uint()),
		Violations: uint32(get(m, "violations").Uint()),
	}

	areas := get(m, "areas").List()

	for i := 0; i < areas.Len(); i++ {
		var a Area
		a.load(areas.Get(i).Message())
		p.Areas = append(p.Areas, a)
	}

	ids := get(m, "peripherals").List()

	for i := 0; i < ids.Len(); i++ {
		p.Peripherals = append(p.Peripherals, uint32(ids.Get(i).Uint()))
	}

	return nil
}

// SemVer returns the parsed status version.
func (p *Status) SemVer() (*semver.Version, error) {
	return semver.NewVersion(p.Version)
}

// Print returns the secure partition status in textual format.
func (p *Status) Print() string {
	var status bytes.Buffer

	status.WriteString("----------------------------------------------------- Secure Partition ----\n")
	status.WriteString(fmt.Sprintf("Version ................: %s\n", p.Version))
	status.WriteString(fmt.Sprintf("Revision ...............: %s\n", p.Revision))
	status.WriteString(fmt.Sprintf("Build ..................: %s\n", p.Build))
	status.WriteString(fmt.Sprintf("Debug ..................: %s\n", p.Debug))
	status.WriteString(fmt.Sprintf("Sealed .................: %v\n", p.Sealed))

	for _, a := range p.Areas {
		lock := ""

		if a.Locked {
			lock = " locked"
		}

		status.WriteString(fmt.Sprintf("%-5s area .............: %#08x-%#08x %s%s\n", a.Memory, a.Base, a.Limit, a.Attribution, lock))
	}

	status.WriteString(fmt.Sprintf("Peripherals ............: %v\n", p.Peripherals))
	status.WriteString(fmt.Sprintf("Operations .............: %d\n", p.Operations))
	status.WriteString(fmt.Sprintf("Violations .............: %d", p.Violations))

	return status.String()
}

// Sign returns the textual status signed as a note.
func (p *Status) Sign(signer note.Signer) ([]byte, error) {
	return note.Sign(&note.Note{Text: p.Print() + "\n"}, signer)
}

// Open verifies a signed status note, returning its text.
func Open(msg []byte, verifier note.Verifier) (string, error) {
	n, err := note.Open(msg, note.VerifierList(verifier))

	if err != nil {
		return "", err
	}

	if len(n.Sigs) == 0 {
		return "", errors.New("status note not signed")
	}

	return n.Text, nil
}
