// Package license answers whether the running copy is licensed.
// Nothing in the tagging workflow is gated on the answer.
package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Product is the product id license keys are issued for.
const Product = "gcpeditorpro"

// Checker reports the license state. Implementations must not block.
type Checker interface {
	IsLicensed() bool
}

// Info describes a validated license.
type Info struct {
	Owner string
	Demo  bool // Key missing or invalid
	Dev   bool // Development build, always licensed
}

// Licensed reports whether the info grants a full license.
func (i Info) Licensed() bool {
	return i.Dev || !i.Demo
}

// Dev is the checker used by development builds.
type Dev struct{}

func (Dev) IsLicensed() bool { return true }

// Sign produces the key for owner. Keys have the form "owner.signature".
func Sign(secret []byte, product, owner string) string {
	return owner + "." + signature(secret, product, owner)
}

func signature(secret []byte, product, owner string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(product + "|" + owner))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks key against product. Invalid keys yield a demo license.
func Validate(secret []byte, product, key string) Info {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return Info{Demo: true}
	}
	owner, sig := key[:i], key[i+1:]
	want := signature(secret, product, owner)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return Info{Demo: true}
	}
	return Info{Owner: owner}
}

// KeyChecker validates a stored key on every query. The key source is
// typically a preference lookup.
type KeyChecker struct {
	Secret  []byte
	Product string
	Key     func() string
}

func (c KeyChecker) IsLicensed() bool {
	if c.Key == nil {
		return false
	}
	key := c.Key()
	if key == "" {
		return false
	}
	return Validate(c.Secret, c.Product, key).Licensed()
}
