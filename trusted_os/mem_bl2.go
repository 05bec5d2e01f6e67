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

//go:build bl2

package main

import (
	"github.com/transparency-dev/armored-witness-spm/boundary"
)

// Secondary image slot, written by the Non-Secure image on updates
const (
	secondaryStart = nonSecureStart + nonSecureSize
	secondarySize  = 0x00030000 // 192KB
)

func secondaryPartition() *boundary.Range {
	return &boundary.Range{
		Base:  secondaryStart,
		Limit: secondaryStart + secondarySize - 1,
	}
}
