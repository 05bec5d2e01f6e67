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

package main

import (
	"fmt"
	"io"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/exec"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/api"
	spm "github.com/transparency-dev/armored-witness-spm/api/rpc"
	"github.com/transparency-dev/armored-witness-spm/operation"
)

// Device represents a running Secure partition, reached over the standard
// input and output of its process.
type Device struct {
	cmd    *exec.Cmd
	client *rpc.Client
}

type pipe struct {
	io.ReadCloser
	io.WriteCloser
}

func (p pipe) Close() error {
	p.WriteCloser.Close()
	return p.ReadCloser.Close()
}

func open(path string, verbosity int) (d *Device, err error) {
	d = &Device{
		cmd: exec.Command(path, fmt.Sprintf("-v=%d", verbosity)),
	}

	d.cmd.Stderr = os.Stderr

	in, err := d.cmd.StdinPipe()

	if err != nil {
		return
	}

	out, err := d.cmd.StdoutPipe()

	if err != nil {
		return
	}

	if err = d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start %s, %v", path, err)
	}

	klog.V(1).Infof("started Secure partition %s (pid %d)", path, d.cmd.Process.Pid)

	d.client = jsonrpc.NewClient(pipe{ReadCloser: out, WriteCloser: in})

	return
}

func (d *Device) Close() error {
	d.client.Close()
	return d.cmd.Wait()
}

func (d *Device) status() (s *api.Status, err error) {
	var buf []byte

	if err = d.client.Call("RPC.Status", nil, &buf); err != nil {
		return
	}

	s = &api.Status{}
	err = s.Unmarshal(buf)

	return
}

func (d *Device) probe(addr uint32, nonSecure bool, access string) (res string, err error) {
	req := &spm.Probe{
		Addr:      addr,
		NonSecure: nonSecure,
		Access:    access,
	}

	err = d.client.Call("RPC.Probe", req, &res)

	return
}

func (d *Device) hash(alg spm.Algorithm, r io.Reader) (digest []byte, err error) {
	var h operation.Handle

	if err = d.client.Call("Crypto.HashSetup", spm.HashSetup{Algorithm: alg}, &h); err != nil {
		return
	}

	// HashFinish releases the operation on its own, any earlier failure
	// must abort it to free the slot.
	finished := false

	defer func() {
		if err != nil && !finished {
			if aerr := d.client.Call("Crypto.HashAbort", h, nil); aerr != nil {
				klog.Warningf("could not abort hash operation %s, %v", h, aerr)
			}
		}
	}()

	buf := make([]byte, 4096)

	for {
		n, rerr := r.Read(buf)

		if n > 0 {
			if err = d.client.Call("Crypto.HashUpdate", spm.Update{Handle: h, Data: buf[:n]}, nil); err != nil {
				return nil, err
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			return nil, rerr
		}
	}

	finished = true
	err = d.client.Call("Crypto.HashFinish", h, &digest)

	return
}
