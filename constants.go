/*
Copyright 2026 HoneyLink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package honeylink holds the module-wide identifiers shared by every
// HoneyLink component: the component-naming helper used in structured
// logs and the build version string.
package honeylink

import "strings"

// Version is the HoneyLink core module version, overridden at build time
// via -ldflags.
var Version = "dev"

// Component generates "component:subcomponent1:subcomponent2" strings used
// as the trace.Component field in structured log entries.
func Component(components ...string) string {
	return strings.Join(components, ":")
}
