package engine

import (
	"sort"
)

func flattenGroups(groups []FileGroup) FileGroup {
	var files FileGroup
	for _, g := range groups {
		files = append(files, g...)
	}
	return files
}

// RepartitionByRange splits files into byte ranges so that each of the
// target groups scans about the same number of bytes. Files that already
// have a range are left alone and disable the split. It returns false when
// repartitioning does not apply.
func RepartitionByRange(groups []FileGroup, target int, minSize int64) ([]FileGroup, bool) {
	if target <= 1 {
		return nil, false
	}
	files := flattenGroups(groups)
	if len(files) == 0 {
		return nil, false
	}

	var total int64
	for _, f := range files {
		if f.Range != nil {
			return nil, false
		}
		total += f.Size
	}
	if total < minSize || total == 0 {
		return nil, false
	}

	partSize := (total + int64(target) - 1) / int64(target)

	out := make([]FileGroup, 0, target)
	var current FileGroup
	var currentSize int64
	for _, f := range files {
		var offset int64
		for offset < f.Size {
			take := min(f.Size-offset, partSize-currentSize)
			pf := f
			pf.Range = &FileRange{Start: offset, End: offset + take}
			current = append(current, pf)
			offset += take
			currentSize += take
			if currentSize >= partSize {
				out = append(out, current)
				current, currentSize = nil, 0
			}
		}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out, true
}

// RepartitionWholeFiles distributes whole files over at most target groups,
// largest file first onto the least loaded group. It returns false when
// repartitioning does not apply.
func RepartitionWholeFiles(groups []FileGroup, target int) ([]FileGroup, bool) {
	if target <= 1 {
		return nil, false
	}
	files := flattenGroups(groups)
	if len(files) <= 1 {
		return nil, false
	}

	sorted := append(FileGroup(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	n := min(target, len(sorted))
	out := make([]FileGroup, n)
	sizes := make([]int64, n)
	for _, f := range sorted {
		best := 0
		for i := 1; i < n; i++ {
			if sizes[i] < sizes[best] {
				best = i
			}
		}
		f.Range = nil
		out[best] = append(out[best], f)
		sizes[best] += f.Size
	}
	return out, true
}
