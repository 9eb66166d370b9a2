package filter

import "strings"

// EqualsQuery renders a backend equality filter: attr eq "value", with double
// quotes in value escaped as \".
func EqualsQuery(attr, value string) string {
	return attr + ` eq "` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}
