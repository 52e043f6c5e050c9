package compose

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"

	"github.com/gradekeeper/gradekeeper/course"
	"github.com/gradekeeper/gradekeeper/helpers"
	"github.com/gradekeeper/gradekeeper/pgpmail"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var keyConfig = &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}

func genKey(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "", email, keyConfig)
	require.NoError(t, err)
	return entity
}

func keyID(entity *openpgp.Entity) string {
	fp := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
	return fp[len(fp)-16:]
}

var (
	robot = &course.Person{
		Name:   "Robot101",
		Emails: []string{"phys101@tower.edu"},
		Groups: []string{course.GroupRobot},
	}
	bilbo = &course.Person{
		Name:    "Bilbo Baggins",
		Emails:  []string{"bb@shire.org"},
		Aliases: []string{"Billy"},
		Groups:  []string{course.GroupStudents},
	}
)

func TestSalutation(t *testing.T) {
	got := Salutation("Billy", "Your grade is 9.", "Robot101")
	require.Equal(t, "Billy,\n\nYour grade is 9.\n\nYours,\nRobot101\n", got)
}

func TestGuessCharset(t *testing.T) {
	require.Equal(t, "us-ascii", guessCharset("plain text"))
	require.Equal(t, "utf-8", guessCharset("gradé"))
}

func TestComposeUnprotected(t *testing.T) {
	c := &Composer{Robot: robot, Log: discardLogger()}
	raw, recipients, err := c.Compose(Options{
		To:        []*course.Person{bilbo},
		Subject:   "Your grade",
		InReplyTo: "<orig@shire.org>",
	}, "Hello there.")
	require.NoError(t, err)
	require.Equal(t, []string{"bb@shire.org"}, recipients)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	require.Contains(t, entity.Header.Get("From"), "phys101@tower.edu")
	require.Contains(t, entity.Header.Get("To"), "bb@shire.org")
	require.Equal(t, "<orig@shire.org>", entity.Header.Get("In-Reply-To"))
	require.Equal(t, "auto-replied", entity.Header.Get("Auto-Submitted"))
	require.NotEmpty(t, entity.Header.Get("Message-ID"))

	body, ok, err := helpers.PlainTextBody(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, body, "Hello there.")
}

func TestComposeWithOriginal(t *testing.T) {
	original := []byte("From: bb@shire.org\r\nSubject: [submit] a1\r\n\r\nanswer\r\n")
	c := &Composer{Robot: robot, Log: discardLogger()}
	raw, _, err := c.Compose(Options{
		To:       []*course.Person{bilbo},
		Subject:  "Received",
		Original: original,
	}, "Got it.")
	require.NoError(t, err)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	mediaType, _, _ := entity.Header.ContentType()
	require.Equal(t, "multipart/mixed", mediaType)
	require.Contains(t, string(raw), "message/rfc822")
	require.Contains(t, string(raw), "[submit] a1")
}

func TestComposeSignsWithRobotKey(t *testing.T) {
	robotKey := genKey(t, "Robot101", "phys101@tower.edu")
	keyring := pgpmail.NewKeyring(openpgp.EntityList{robotKey})
	signingRobot := &course.Person{
		Name:   "Robot101",
		Emails: []string{"phys101@tower.edu"},
		PGPKey: keyID(robotKey),
	}

	c := &Composer{Robot: signingRobot, Keyring: keyring, Log: discardLogger()}
	raw, _, err := c.Compose(Options{
		To:      []*course.Person{bilbo}, // no key: sign only
		Subject: "Your grade",
	}, "9 out of 10.")
	require.NoError(t, err)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	mediaType, _, _ := entity.Header.ContentType()
	require.Equal(t, "multipart/signed", mediaType)

	v, err := keyring.Verify(raw)
	require.NoError(t, err)
	require.True(t, v.Signed)
	require.False(t, v.Encrypted)
	require.NoError(t, v.SignatureError)
	require.NotNil(t, v.Signer)
}

func TestComposeEncryptsWhenAllKeyed(t *testing.T) {
	robotKey := genKey(t, "Robot101", "phys101@tower.edu")
	bilboKey := genKey(t, "Bilbo Baggins", "bb@shire.org")
	keyring := pgpmail.NewKeyring(openpgp.EntityList{robotKey, bilboKey})

	signingRobot := &course.Person{
		Name:   "Robot101",
		Emails: []string{"phys101@tower.edu"},
		PGPKey: keyID(robotKey),
	}
	keyedBilbo := &course.Person{
		Name:   "Bilbo Baggins",
		Emails: []string{"bb@shire.org"},
		PGPKey: keyID(bilboKey),
	}

	c := &Composer{Robot: signingRobot, Keyring: keyring, Log: discardLogger()}
	raw, _, err := c.Compose(Options{
		To:      []*course.Person{keyedBilbo},
		Subject: "Your grade",
	}, "9 out of 10.")
	require.NoError(t, err)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	mediaType, _, _ := entity.Header.ContentType()
	require.Equal(t, "multipart/encrypted", mediaType)
	require.NotContains(t, string(raw), "9 out of 10.")

	// The robot can read its own sent mail.
	v, err := keyring.Verify(raw)
	require.NoError(t, err)
	require.True(t, v.Encrypted)
	require.True(t, v.Signed)
	require.NoError(t, v.SignatureError)
}

func TestComposeMixedKeysFallsBackToSigning(t *testing.T) {
	robotKey := genKey(t, "Robot101", "phys101@tower.edu")
	bilboKey := genKey(t, "Bilbo Baggins", "bb@shire.org")
	keyring := pgpmail.NewKeyring(openpgp.EntityList{robotKey, bilboKey})

	signingRobot := &course.Person{
		Name:   "Robot101",
		Emails: []string{"phys101@tower.edu"},
		PGPKey: keyID(robotKey),
	}
	keyedBilbo := &course.Person{
		Name:   "Bilbo Baggins",
		Emails: []string{"bb@shire.org"},
		PGPKey: keyID(bilboKey),
	}
	keylessSauron := &course.Person{
		Name:   "Sauron",
		Emails: []string{"eye@tower.edu"},
	}

	c := &Composer{Robot: signingRobot, Keyring: keyring, Log: discardLogger()}
	raw, recipients, err := c.Compose(Options{
		To:      []*course.Person{keyedBilbo},
		Cc:      []*course.Person{keylessSauron},
		Subject: "Course grades",
	}, "Everyone did fine.")
	require.NoError(t, err)
	require.Equal(t, []string{"bb@shire.org", "eye@tower.edu"}, recipients)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	mediaType, _, _ := entity.Header.ContentType()
	require.Equal(t, "multipart/signed", mediaType, "one keyless target disables encryption")
}

func TestComposeWithExtraParts(t *testing.T) {
	stored := []byte("From: bb@shire.org\r\nSubject: [submit] assignment 1\r\n\r\nanswer\r\n")
	c := &Composer{Robot: robot, Log: discardLogger()}
	raw, _, err := c.Compose(Options{
		To:       []*course.Person{bilbo},
		Subject:  "Physics 101 assignment submissions for Bilbo Baggins",
		Texts:    []string{"Assignment 1 grade: 5\n\nGood work.\n"},
		Messages: [][]byte{stored},
	}, "Submissions:\n  * Assignment 1\n")
	require.NoError(t, err)

	entity, err := helpers.ReadEntity(raw)
	require.NoError(t, err)
	mediaType, _, _ := entity.Header.ContentType()
	require.Equal(t, "multipart/mixed", mediaType)
	require.Contains(t, string(raw), "Assignment 1 grade: 5")
	require.Contains(t, string(raw), "message/rfc822")
	require.Contains(t, string(raw), "[submit] assignment 1")
}

func TestComposeSubjectEncoding(t *testing.T) {
	c := &Composer{Robot: robot, Log: discardLogger()}
	raw, _, err := c.Compose(Options{
		To:      []*course.Person{bilbo},
		Subject: "no grade for Attendance 1",
	}, "x")
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "Subject: no grade for Attendance 1"))
}
