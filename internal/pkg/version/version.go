// Copyright (C) 2018 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version reports the bgpd release shown by `bgpd --version` and
// the admin socket's show version.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	MAJOR uint = 1
	MINOR uint = 0
	PATCH uint = 0
)

// Set at link time, e.g. -ldflags "-X .../version.TAG=rc1".
var (
	SHA = ""
	TAG = ""
)

// Version renders MAJOR.MINOR.PATCH[-TAG][+sha.SHA]. Without a linked SHA
// the VCS revision recorded by the Go toolchain is used, if any.
func Version() string {
	return format(TAG, revision())
}

func revision() string {
	if SHA != "" {
		return SHA
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

func format(tag, sha string) string {
	v := fmt.Sprintf("%d.%d.%d", MAJOR, MINOR, PATCH)
	if tag != "" {
		v += "-" + tag
	}
	if sha != "" {
		v += "+sha." + sha
	}
	return v
}
