package util

// MergeMaps returns a new map containing the entries of a overlaid with the
// entries of b; values in b win on key collisions.
func MergeMaps(a map[string]string, b map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range a {
		result[k] = v
	}
	for k, v := range b {
		result[k] = v
	}
	return result
}
