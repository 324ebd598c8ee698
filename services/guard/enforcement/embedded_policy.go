// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime filter. It uses the
Go embed package to bake filter_patterns.yaml directly into the compiled
binary so the screening rules are immutable at runtime and travel with
the executable.
*/

package enforcement

import (
	_ "embed"
)

// FilterPatterns holds the raw bytes of filter_patterns.yaml, populated
// at compile time via the embed directive. Pass these bytes directly to
// yaml.Unmarshal.
//
//go:embed filter_patterns.yaml
var FilterPatterns []byte
