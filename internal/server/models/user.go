package models

import "time"

// User is an account of the mini-app. VKID is kept as a string end to end:
// VK ids can exceed 2^53 and clients exchange them as JSON strings.
type User struct {
	ID           int64
	VKID         string
	Name         string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
