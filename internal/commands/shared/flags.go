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

package shared

// Command groups shown in root help output.
const (
	GroupChat  = "chat"
	GroupTools = "tools"
	GroupSetup = "setup"
)

// persistent holds the root command's persistent flags. Cobra binds to its
// fields through RegisterFlagPointers.
var persistent struct {
	verbose bool
	json    bool
	config  string
}

// build is overwritten from ldflags via SetVersion.
var build = struct {
	version, commit, date string
}{"dev", "unknown", "unknown"}

// RegisterFlagPointers returns the targets for --verbose, --json and --config.
func RegisterFlagPointers() (verbose *bool, json *bool, config *string) {
	return &persistent.verbose, &persistent.json, &persistent.config
}

func SetVersion(version, commit, date string) {
	build.version, build.commit, build.date = version, commit, date
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return build.version, build.commit, build.date
}

func GetVerbose() bool { return persistent.verbose }
func GetJSON() bool { return persistent.json }
func GetConfigPath() string { return persistent.config }
func SetJSONForTest(on bool) { persistent.json = on }

func SetConfigPathForTest(path string) { persistent.config = path }
