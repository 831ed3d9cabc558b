// Copyright 2025 Tom Barlow
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

package lifecycle

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	webServiceRe = regexp.MustCompile(`starting web service.*\baddr=(\S+)`)
	errorLevelRe = regexp.MustCompile(`\blvl=(eror|crit)\b`)
	fieldRe      = regexp.MustCompile(`\b(err|msg)=("(?:[^"\\]|\\.)*"|\S+)`)
)

// DiscoverAddr extracts the agent API URL from a startup log line. The
// agent logs "starting web service ... addr=<host:port>" once its API is
// listening.
func DiscoverAddr(line string) (string, bool) {
	m := webServiceRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	addr := strings.Trim(m[1], `"`)
	if addr == "" {
		return "", false
	}
	return "http://" + addr, true
}

// LineError returns the failure described by an error or critical level
// log line. It prefers the err field and falls back to msg.
func LineError(line string) (string, bool) {
	if !errorLevelRe.MatchString(line) {
		return "", false
	}

	fields := make(map[string]string, 2)
	for _, m := range fieldRe.FindAllStringSubmatch(line, -1) {
		v := m[2]
		if uq, err := strconv.Unquote(v); err == nil {
			v = uq
		}
		fields[m[1]] = v
	}

	switch {
	case fields["err"] != "":
		return fields["err"], true
	case fields["msg"] != "":
		return fields["msg"], true
	default:
		return strings.TrimSpace(line), true
	}
}
