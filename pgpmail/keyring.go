// Package pgpmail implements the PGP/MIME subset used by the robot:
// verifying signatures on incoming requests, and signing or encrypting
// outgoing replies (RFC 3156).
package pgpmail

import (
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Keyring holds the course participants' public keys and the robot's
// private key.
type Keyring struct {
	entities openpgp.EntityList
}

// NewKeyring wraps an already-loaded entity list.
func NewKeyring(entities openpgp.EntityList) *Keyring {
	return &Keyring{entities: entities}
}

// Load reads a keyring file, armored or binary.
func Load(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		// Not armored; retry as a binary keyring.
		if _, serr := f.Seek(0, 0); serr != nil {
			return nil, serr
		}
		entities, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, fmt.Errorf("unusable keyring %s: %w", path, err)
		}
	}
	return &Keyring{entities: entities}, nil
}

// Entities exposes the underlying list for verification calls.
func (k *Keyring) Entities() openpgp.EntityList {
	return k.entities
}

// normalizeKeyID canonicalizes a configured key identifier: upper-case hex
// with any 0x prefix removed.
func normalizeKeyID(keyID string) string {
	keyID = strings.TrimPrefix(strings.TrimPrefix(keyID, "0x"), "0X")
	return strings.ToUpper(keyID)
}

// KeyMatches reports whether the entity's primary key or any subkey matches
// the configured identifier, which may be a short id, long id or full
// fingerprint.
func KeyMatches(entity *openpgp.Entity, keyID string) bool {
	want := normalizeKeyID(keyID)
	if want == "" {
		return false
	}
	fingerprints := []string{fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)}
	for _, sub := range entity.Subkeys {
		fingerprints = append(fingerprints, fmt.Sprintf("%X", sub.PublicKey.Fingerprint))
	}
	for _, fp := range fingerprints {
		if strings.HasSuffix(fp, want) {
			return true
		}
	}
	return false
}

// EntityByID returns the entity owning the primary key or subkey with the
// given key id.
func (k *Keyring) EntityByID(id uint64) (*openpgp.Entity, bool) {
	for _, key := range k.entities.KeysById(id) {
		return key.Entity, true
	}
	return nil, false
}

// KeyFor returns the entity matching a configured key identifier.
func (k *Keyring) KeyFor(keyID string) (*openpgp.Entity, bool) {
	for _, entity := range k.entities {
		if KeyMatches(entity, keyID) {
			return entity, true
		}
	}
	return nil, false
}

// SignerFor returns the entity matching keyID, requiring a private key.
func (k *Keyring) SignerFor(keyID string) (*openpgp.Entity, error) {
	entity, ok := k.KeyFor(keyID)
	if !ok {
		return nil, fmt.Errorf("no key %s in keyring", keyID)
	}
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("key %s has no private part", keyID)
	}
	return entity, nil
}

// Export writes the armored public or private serialization of an entity.
func Export(entity *openpgp.Entity, private bool) (string, error) {
	var b strings.Builder
	blockType := openpgp.PublicKeyType
	if private {
		blockType = openpgp.PrivateKeyType
	}
	w, err := armor.Encode(&b, blockType, nil)
	if err != nil {
		return "", err
	}
	if private {
		err = entity.SerializePrivate(w, nil)
	} else {
		err = entity.Serialize(w)
	}
	if err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return b.String() + "\n", nil
}
