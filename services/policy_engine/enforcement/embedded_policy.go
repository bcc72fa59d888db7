// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package enforcement embeds the default optimization constraints into the binary.
Operators may override them through the configuration file; the embedded copy is
what a fresh install enforces.
*/
package enforcement

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

// OptimizationConstraints holds the raw bytes of 'optimization_constraints.yaml'.
//
// Usage:
//
//	var c policy_engine.Constraints
//	err := yaml.Unmarshal(enforcement.OptimizationConstraints, &c)
//
//go:embed optimization_constraints.yaml
var OptimizationConstraints []byte

// Digest returns the hex SHA-256 of the embedded constraints, reported by the
// policy endpoint so operators can tell which defaults a binary carries.
func Digest() string {
	sum := sha256.Sum256(OptimizationConstraints)
	return hex.EncodeToString(sum[:])
}
