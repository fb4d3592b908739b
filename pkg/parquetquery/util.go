package parquetquery

import (
	"strings"

	pq "github.com/parquet-go/parquet-go"
)

// GetColumnIndexByPath resolves a dotted path such as "bbox.xmin" to the
// leaf column index. index is -1 when the path does not exist or names a
// group.
func GetColumnIndexByPath(pf *pq.File, s string) (index, depth, maxDef int) {
	colSelector := strings.Split(s, ".")
	n := pf.Root()
	for len(colSelector) > 0 {
		n = n.Column(colSelector[0])
		if n == nil {
			return -1, -1, -1
		}

		colSelector = colSelector[1:]
		depth++
	}

	if !n.Leaf() {
		return -1, -1, -1
	}
	return n.Index(), depth, n.MaxDefinitionLevel()
}

func HasColumn(pf *pq.File, s string) bool {
	index, _, _ := GetColumnIndexByPath(pf, s)
	return index >= 0
}
