package util

import "strings"

// PrefixConfig joins a flag prefix and an option name with a dot.
func PrefixConfig(prefix string, option string) string {
	if len(prefix) > 0 {
		return prefix + "." + option
	}

	return option
}

// TabOut indents every line after the first of a multi-line value.
func TabOut(s string) string {
	return strings.ReplaceAll(s, "\n", "\n\t")
}
