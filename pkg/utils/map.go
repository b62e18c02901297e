package utils

// Returns an array with all the keys of a map
func Keys[Key comparable, Value any](input map[Key]Value) []Key {
	keys := make([]Key, 0, len(input))

	for key := range input {
		keys = append(keys, key)
	}

	return keys
}

// Returns a shallow copy of a map
func CopyMap[Key comparable, Value any](input map[Key]Value) map[Key]Value {
	output := make(map[Key]Value, len(input))

	for key, value := range input {
		output[key] = value
	}

	return output
}
