// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedConstraintsIntegrity(t *testing.T) {
	if len(OptimizationConstraints) == 0 {
		t.Fatal("Embedded constraints are empty. Did the build fail to include 'optimization_constraints.yaml'?")
	}

	var dump map[string]interface{}
	if err := yaml.Unmarshal(OptimizationConstraints, &dump); err != nil {
		t.Fatalf("Embedded data is not valid YAML: %v", err)
	}

	for _, key := range []string{"forbidden_actions", "allowed_actions", "forbidden_sql_patterns", "forbidden_view_patterns"} {
		if _, ok := dump[key]; !ok {
			t.Errorf("embedded constraints missing %q", key)
		}
	}

	digest := Digest()
	if len(digest) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(digest))
	}
	if digest != Digest() {
		t.Error("digest is not stable")
	}
	t.Logf("Current constraints digest: %s", digest)
}
