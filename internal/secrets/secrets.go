// Package secrets generates per-tenant credentials. Credentials are
// write-once: the orchestrator generates them exactly once per stack and the
// repository refuses overwrites.
package secrets

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/repository"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const passwordLength = 24

// RandomString draws n characters from the alphabet using crypto/rand.
func RandomString(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(passwordAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Generate builds the credential bundle for a tenant. adminPassword is used
// as-is when the signup supplied one; otherwise a password is generated.
func Generate(tenantID uuid.UUID, adminPassword string) (repository.Credentials, error) {
	suffix := strings.ReplaceAll(tenantID.String(), "-", "")[:12]

	dbPassword, err := RandomString(passwordLength)
	if err != nil {
		return repository.Credentials{}, err
	}
	if adminPassword == "" {
		adminPassword, err = RandomString(passwordLength)
		if err != nil {
			return repository.Credentials{}, err
		}
	}

	return repository.Credentials{
		DBName:        "shop_" + suffix,
		DBUser:        "shop_" + suffix,
		DBPassword:    dbPassword,
		AdminUser:     "admin",
		AdminPassword: adminPassword,
	}, nil
}
