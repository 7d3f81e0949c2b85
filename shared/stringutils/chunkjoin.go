/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package stringutils

// ChunkByLength greedily groups items into the fewest possible slices
// such that the summed length of each group's items (plus overhead
// bytes counted once per item, standing in for per-item JSON encoding
// costs like quotes and commas) never exceeds maxlength. An item
// longer than maxlength on its own still gets its own single-item
// group rather than being dropped.
//
// Adapted from the separator-joining chunk-fill algorithm used
// elsewhere in the teacher's codebase for splitting an oversized
// parameter list across multiple protocol lines; reshaped here to
// return the grouped items themselves instead of pre-joined strings,
// since callers need to re-marshal each group as JSON.
func ChunkByLength(maxlength, overhead int, items []string) [][]string {
	if len(items) == 0 {
		return nil
	}

	var groups [][]string
	var current []string
	currentLength := 0

	for _, item := range items {
		itemLength := len(item) + overhead

		if len(current) > 0 && currentLength+itemLength > maxlength {
			groups = append(groups, current)
			current = nil
			currentLength = 0
		}

		current = append(current, item)
		currentLength += itemLength
	}

	if len(current) > 0 {
		groups = append(groups, current)
	}

	return groups
}
