package pgpmail

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/emersion/go-message"

	"github.com/gradekeeper/gradekeeper/helpers"
)

var signConfig = &packet.Config{DefaultHash: crypto.SHA256}

// Sign wraps a content entity in a multipart/signed envelope carrying a
// detached armored signature over the serialized content.
func Sign(content *message.Entity, signer *openpgp.Entity) (*message.Entity, error) {
	payload, err := helpers.EntityBytes(content)
	if err != nil {
		return nil, err
	}

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(payload), signConfig); err != nil {
		return nil, fmt.Errorf("detached signing failed: %w", err)
	}

	boundary := newBoundary()
	var header message.Header
	header.SetContentType("multipart/signed", map[string]string{
		"boundary": boundary,
		"protocol": "application/pgp-signature",
		"micalg":   "pgp-sha256",
	})
	header.Set("MIME-Version", "1.0")

	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\n", boundary)
	body.Write(payload)
	fmt.Fprintf(&body, "\r\n--%s\r\n", boundary)
	body.WriteString("Content-Type: application/pgp-signature; name=\"signature.asc\"\r\n")
	body.WriteString("Content-Description: OpenPGP digital signature\r\n")
	body.WriteString("\r\n")
	body.Write(sig.Bytes())
	fmt.Fprintf(&body, "\r\n--%s--\r\n", boundary)

	return message.New(header, bytes.NewReader(body.Bytes()))
}

// Encrypt wraps a content entity in a multipart/encrypted envelope. The
// content is encrypted to every entity in to; when signer is non-nil the
// plaintext is also signed inside the encryption layer.
func Encrypt(content *message.Entity, to []*openpgp.Entity, signer *openpgp.Entity) (*message.Entity, error) {
	payload, err := helpers.EntityBytes(content)
	if err != nil {
		return nil, err
	}

	var ciphertext bytes.Buffer
	aw, err := armor.Encode(&ciphertext, "PGP MESSAGE", nil)
	if err != nil {
		return nil, err
	}
	pw, err := openpgp.Encrypt(aw, to, signer, nil, signConfig)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	if _, err := pw.Write(payload); err != nil {
		return nil, err
	}
	if err := pw.Close(); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}

	boundary := newBoundary()
	var header message.Header
	header.SetContentType("multipart/encrypted", map[string]string{
		"boundary": boundary,
		"protocol": "application/pgp-encrypted",
	})
	header.Set("MIME-Version", "1.0")

	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\n", boundary)
	body.WriteString("Content-Type: application/pgp-encrypted\r\n")
	body.WriteString("\r\n")
	body.WriteString("Version: 1\r\n")
	fmt.Fprintf(&body, "\r\n--%s\r\n", boundary)
	body.WriteString("Content-Type: application/octet-stream; name=\"encrypted.asc\"\r\n")
	body.WriteString("Content-Description: OpenPGP encrypted message\r\n")
	body.WriteString("\r\n")
	body.Write(ciphertext.Bytes())
	fmt.Fprintf(&body, "\r\n--%s--\r\n", boundary)

	return message.New(header, bytes.NewReader(body.Bytes()))
}

func newBoundary() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
