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

//go:build !dauth_none && !dauth_ns_only && !dauth_full && !dauth_chip_default

package main

// The debug authentication policy must be selected at build time, this
// declaration fails compilation when none of the dauth_* tags is set.
var _ int = "missing debug authentication policy (dauth_none, dauth_ns_only, dauth_full or dauth_chip_default)"
