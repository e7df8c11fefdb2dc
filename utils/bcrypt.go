package utils

import "golang.org/x/crypto/bcrypt"

const MinPasswordLength = 8

func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

// ComparePassword returns bcrypt.ErrMismatchedHashAndPassword on a wrong password.
func ComparePassword(hashed string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
