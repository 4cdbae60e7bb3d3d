package services

import (
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	pkgauth.BcryptCost = bcrypt.MinCost
}
