package pgpmail

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/emersion/go-message"

	"github.com/gradekeeper/gradekeeper/helpers"
)

// Verification is the outcome of unwrapping a message's protection layers.
type Verification struct {
	// Entity is the payload with signature and encryption layers removed.
	Entity *message.Entity
	// Raw is the serialized payload.
	Raw []byte

	Encrypted bool
	Signed    bool
	// Signer is the key that produced the signature, nil when the issuer
	// is not in the keyring or the signature failed to verify.
	Signer *openpgp.Entity
	// IssuerKeyID is the key id claimed by the signature packet, 0 when no
	// issuer could be read. Unlike Signer it survives a failed
	// verification, so callers can tell a bad signature by the expected
	// key from one by a stranger.
	IssuerKeyID uint64
	// SignatureError is non-nil when a present signature fails to verify.
	SignatureError error
}

// SignerFingerprint returns the hex fingerprint of the verified signer, or
// "" when the signer is unknown.
func (v *Verification) SignerFingerprint() string {
	if v.Signer == nil {
		return ""
	}
	return fmt.Sprintf("%X", v.Signer.PrimaryKey.Fingerprint)
}

// Verify unwraps multipart/signed and multipart/encrypted envelopes,
// checking any signature against the keyring. Messages without protection
// layers come back as-is with Signed and Encrypted false; a protection
// layer that cannot be parsed at all is an error.
func (k *Keyring) Verify(raw []byte) (*Verification, error) {
	entity, err := helpers.ReadEntity(raw)
	if err != nil {
		return nil, err
	}

	mediaType, params, _ := entity.Header.ContentType()
	switch mediaType {
	case "multipart/signed":
		return k.verifySigned(entity)
	case "multipart/encrypted":
		if params["protocol"] != "" && params["protocol"] != "application/pgp-encrypted" {
			return nil, fmt.Errorf("unsupported encryption protocol %q", params["protocol"])
		}
		return k.decrypt(entity)
	default:
		return &Verification{Entity: entity, Raw: raw}, nil
	}
}

// verifySigned checks the detached signature of an RFC 3156 multipart/signed
// message: first part payload, second part armored signature.
func (k *Keyring) verifySigned(entity *message.Entity) (*Verification, error) {
	payload, sig, err := twoParts(entity)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := helpers.EntityBytes(payload)
	if err != nil {
		return nil, err
	}
	sigBytes, err := io.ReadAll(sig.Body)
	if err != nil {
		return nil, err
	}

	v := &Verification{Signed: true, Raw: payloadBytes}
	v.Entity, err = helpers.ReadEntity(payloadBytes)
	if err != nil {
		return nil, err
	}
	v.IssuerKeyID = issuerKeyID(sigBytes)
	signer, err := openpgp.CheckArmoredDetachedSignature(
		k.entities, bytes.NewReader(payloadBytes), bytes.NewReader(sigBytes), nil)
	if err != nil {
		v.SignatureError = err
		return v, nil
	}
	v.Signer = signer
	return v, nil
}

// issuerKeyID reads the issuer key id out of an armored detached signature,
// returning 0 when none can be parsed.
func issuerKeyID(armoredSig []byte) uint64 {
	block, err := armor.Decode(bytes.NewReader(armoredSig))
	if err != nil {
		return 0
	}
	pr := packet.NewReader(block.Body)
	for {
		p, err := pr.Next()
		if err != nil {
			return 0
		}
		if sig, ok := p.(*packet.Signature); ok && sig.IssuerKeyId != nil {
			return *sig.IssuerKeyId
		}
	}
}

// decrypt unwraps an RFC 3156 multipart/encrypted message: first part the
// version stub, second part the armored ciphertext. A signature inside the
// encryption layer is verified too.
func (k *Keyring) decrypt(entity *message.Entity) (*Verification, error) {
	_, ciphertext, err := twoParts(entity)
	if err != nil {
		return nil, err
	}
	ctBytes, err := io.ReadAll(ciphertext.Body)
	if err != nil {
		return nil, err
	}
	block, err := armor.Decode(bytes.NewReader(ctBytes))
	if err != nil {
		return nil, fmt.Errorf("unarmoring ciphertext: %w", err)
	}
	md, err := openpgp.ReadMessage(block.Body, k.entities, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	payloadBytes, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	v := &Verification{Encrypted: true, Raw: payloadBytes}
	v.Entity, err = helpers.ReadEntity(payloadBytes)
	if err != nil {
		return nil, err
	}
	if md.IsSigned {
		v.Signed = true
		v.IssuerKeyID = md.SignedByKeyId
		if md.SignatureError != nil {
			v.SignatureError = md.SignatureError
		} else if md.SignedBy != nil {
			v.Signer = md.SignedBy.Entity
		}
	}
	return v, nil
}

func twoParts(entity *message.Entity) (first, second *message.Entity, err error) {
	mr := entity.MultipartReader()
	if mr == nil {
		return nil, nil, fmt.Errorf("protected message is not multipart")
	}
	first, err = mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("protected message missing payload part: %w", err)
	}
	// Parts are only valid until the next NextPart call; keep a copy.
	first, err = clonePart(first)
	if err != nil {
		return nil, nil, err
	}
	second, err = mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("protected message missing second part: %w", err)
	}
	return first, second, nil
}

func clonePart(part *message.Entity) (*message.Entity, error) {
	body, err := io.ReadAll(part.Body)
	if err != nil {
		return nil, err
	}
	return message.New(part.Header, bytes.NewReader(body))
}
