// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"strings"
	"testing"
)

// The kernel source must mirror cull.EvaluateRecord operation for
// operation; float32 result words are compared bit-for-bit across the
// two paths. These are the expressions a well-meaning edit is most
// likely to break: the sphere radius has an algebraically equal but
// differently rounding form, and the band comparison must stay strict.
func TestCullShaderMirrorsReferenceMath(t *testing.T) {
	for _, want := range []string{
		// geom.Bounds.Center and geom.Bounds.Sphere, respectively.
		// length(rec.bounds_max - center) rounds differently.
		"let center = (rec.bounds_min + rec.bounds_max) * 0.5;",
		"let radius = length((rec.bounds_max - rec.bounds_min) * 0.5);",
		// bandLevel: strict comparison, ties go to the nearer band.
		"dist > threshold",
		// packResult layout.
		"word = level << 8u",
		fmt.Sprintf("@workgroup_size(%d)", cullWorkgroupSize),
	} {
		if !strings.Contains(cullShaderSource, want) {
			t.Errorf("cull shader no longer contains %q", want)
		}
	}
}
