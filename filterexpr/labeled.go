// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package filterexpr

import "strings"

// SplitLabeled splits a "label:expression" commandline argument.  If no
// label prefix is present, the expression doubles as its own label.
// Labels are restricted to word characters and spaces so that colons
// inside the expression (e.g. quoted strings) are not misparsed.
func SplitLabeled(arg string) (label, expr string) {
	colon := strings.IndexByte(arg, ':')
	if colon <= 0 {
		return arg, arg
	}
	label = arg[:colon]
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !(c == ' ' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return arg, arg
		}
	}
	return label, arg[colon+1:]
}
