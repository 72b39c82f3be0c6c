package utils

import "github.com/google/uuid"

// GenerateID returns "<prefix>_<uuid>", or a bare uuid when prefix is empty.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
