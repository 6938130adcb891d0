// Package password хэширование и проверка паролей через bcrypt.
package password

import "golang.org/x/crypto/bcrypt"

// Hash возвращает bcrypt-хэш пароля.
func Hash(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify сравнивает пароль с хэшем.
func Verify(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
