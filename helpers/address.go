package helpers

import (
	"strings"

	"github.com/emersion/go-message"
)

// SplitEmailAddress splits a lowercased address into local part and domain.
func SplitEmailAddress(email string) (local, domain string) {
	email = strings.ToLower(email)
	local, domain, _ = strings.Cut(email, "@")
	return local, domain
}

// StripAngles removes one level of RFC 5321 angle brackets.
func StripAngles(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	return strings.TrimSuffix(addr, ">")
}

// ReturnPath extracts the envelope sender recorded by the delivery agent.
// ok is false when the header is missing or records the null sender.
func ReturnPath(entity *message.Entity) (addr string, ok bool) {
	if !entity.Header.Has("Return-Path") {
		return "", false
	}
	addr = strings.ToLower(StripAngles(entity.Header.Get("Return-Path")))
	if addr == "" {
		return "", false
	}
	return addr, true
}
