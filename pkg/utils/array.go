package utils

import (
	"golang.org/x/exp/constraints"
)

// Generates a sequence constructed by applying a function to all elements of a given input sequence
func Map[T any, U any](input []T, mapFunction func(T) U) []U {
	output := make([]U, len(input))

	for i := range input {
		output[i] = mapFunction(input[i])
	}

	return output
}

// Returns the greatest element of a sequence and true, or the zero value and false if the sequence is empty
func Max[T constraints.Ordered](input []T) (T, bool) {
	var max T
	if len(input) == 0 {
		return max, false
	}

	max = input[0]
	for _, value := range input[1:] {
		if value > max {
			max = value
		}
	}

	return max, true
}

// Returns true if the sequence contains the given element
func Contains[T comparable](input []T, element T) bool {
	for _, value := range input {
		if value == element {
			return true
		}
	}

	return false
}
