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

// spmctl is the host side control tool for the Secure partition manager.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/api"
	spm "github.com/transparency-dev/armored-witness-spm/api/rpc"
)

var flagOS = &cli.StringFlag{
	Name:    "os",
	Value:   "trusted_os.elf",
	Usage:   "Secure partition executable",
	EnvVars: []string{"SPM_OS"},
}

var flagVerbosity = &cli.IntFlag{
	Name:  "verbosity",
	Value: 0,
	Usage: "Secure partition log verbosity",
}

var flagKey = &cli.StringFlag{
	Name:  "key",
	Usage: "Path to the note signer key, if empty an ephemeral one is generated",
}

var flagVerifier = &cli.StringFlag{
	Name:     "verifier",
	Usage:    "Note verifier key",
	Required: true,
}

// withDevice runs fn against a freshly started Secure partition.
func withDevice(cCtx *cli.Context, fn func(d *Device) error) (err error) {
	d, err := open(cCtx.String(flagOS.Name), cCtx.Int(flagVerbosity.Name))

	if err != nil {
		return
	}

	defer func() {
		if cerr := d.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	return fn(d)
}

func signer(path string) (note.Signer, error) {
	if len(path) == 0 {
		skey, vkey, err := note.GenerateKey(rand.Reader, "spm")

		if err != nil {
			return nil, err
		}

		klog.Infof("ephemeral verifier key: %s", vkey)

		return note.NewSigner(skey)
	}

	skey, err := os.ReadFile(path)

	if err != nil {
		return nil, err
	}

	return note.NewSigner(strings.TrimSpace(string(skey)))
}

func parseAlgorithm(s string) (spm.Algorithm, error) {
	for _, alg := range []spm.Algorithm{spm.SHA256, spm.BLAKE2b_256} {
		if strings.EqualFold(alg.String(), s) {
			return alg, nil
		}
	}

	return 0, fmt.Errorf("unsupported hash algorithm %q", s)
}

func main() {
	defer klog.Flush()

	app := &cli.App{
		Name:  "spmctl",
		Usage: "Secure partition manager control",
		Flags: []cli.Flag{
			flagOS,
			flagVerbosity,
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print the boundary configuration status",
				Action: func(cCtx *cli.Context) error {
					return withDevice(cCtx, func(d *Device) error {
						s, err := d.status()

						if err != nil {
							return err
						}

						fmt.Println(s.Print())

						return nil
					})
				},
			},
			{
				Name:      "probe",
				Usage:     "evaluate a bus access against the boundary",
				ArgsUsage: "<address>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ns", Value: true, Usage: "access from the Non-Secure world"},
					&cli.StringFlag{Name: "access", Value: "read", Usage: "read, write or execute"},
				},
				Action: func(cCtx *cli.Context) error {
					var addr uint32

					if _, err := fmt.Sscan(cCtx.Args().First(), &addr); err != nil {
						return fmt.Errorf("invalid address %q, %v", cCtx.Args().First(), err)
					}

					return withDevice(cCtx, func(d *Device) error {
						res, err := d.probe(addr, cCtx.Bool("ns"), cCtx.String("access"))

						if err != nil {
							return err
						}

						fmt.Printf("%#08x %s: %s\n", addr, cCtx.String("access"), res)

						return nil
					})
				},
			},
			{
				Name:      "hash",
				Usage:     "hash a file through the Secure crypto service",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "algorithm", Value: spm.SHA256.String(), Usage: "SHA-256 or BLAKE2b-256"},
				},
				Action: func(cCtx *cli.Context) error {
					alg, err := parseAlgorithm(cCtx.String("algorithm"))

					if err != nil {
						return err
					}

					var r io.Reader = os.Stdin

					if path := cCtx.Args().First(); len(path) > 0 {
						f, err := os.Open(path)

						if err != nil {
							return err
						}

						defer f.Close()
						r = f
					}

					return withDevice(cCtx, func(d *Device) error {
						digest, err := d.hash(alg, r)

						if err != nil {
							return err
						}

						fmt.Println(hex.EncodeToString(digest))

						return nil
					})
				},
			},
			{
				Name:  "attest",
				Usage: "print the status signed as a note",
				Flags: []cli.Flag{
					flagKey,
				},
				Action: func(cCtx *cli.Context) error {
					s, err := signer(cCtx.String(flagKey.Name))

					if err != nil {
						return fmt.Errorf("could not load signer, %v", err)
					}

					return withDevice(cCtx, func(d *Device) error {
						status, err := d.status()

						if err != nil {
							return err
						}

						msg, err := status.Sign(s)

						if err != nil {
							return err
						}

						os.Stdout.Write(msg)

						return nil
					})
				},
			},
			{
				Name:      "verify",
				Usage:     "verify a status note",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					flagVerifier,
				},
				Action: func(cCtx *cli.Context) (err error) {
					var msg []byte

					if path := cCtx.Args().First(); len(path) > 0 {
						msg, err = os.ReadFile(path)
					} else {
						msg, err = io.ReadAll(os.Stdin)
					}

					if err != nil {
						return
					}

					v, err := note.NewVerifier(cCtx.String(flagVerifier.Name))

					if err != nil {
						return fmt.Errorf("invalid verifier key, %v", err)
					}

					text, err := api.Open(msg, v)

					if err != nil {
						return errors.Join(errors.New("status verification failed"), err)
					}

					fmt.Print(text)

					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		klog.Exitf("fatal error, %v", err)
	}
}
