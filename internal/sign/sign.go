// Package sign implements the canonical request-signing primitives shared
// with merchant SDKs: JSON minification, the string-to-sign construction,
// and HMAC-SHA512 signatures. Any byte-level divergence from the client
// side breaks every signature, so changes here must keep the conformance
// vectors in sign_test.go green.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Minify removes whitespace and comments from a JSON document while
// preserving string literals byte-for-byte. It strips spaces, tabs, CR and
// LF outside strings, and removes // line comments and /* */ block
// comments. A backslash escapes the following character inside a string,
// so escaped quotes never terminate the literal.
func Minify(s string) string {
	if s == "" {
		return ""
	}

	var (
		inString      bool
		stringOpener  byte
		inLineComment bool
		inBlockComment bool
		escaped       bool
	)

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		var cc byte = ' '
		if i+1 < len(s) {
			cc = s[i+1]
		}

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case stringOpener:
				inString = false
			}
			continue
		}

		if inLineComment {
			if c == '\n' {
				inLineComment = false
			}
			continue
		}

		if inBlockComment {
			if c == '*' && cc == '/' {
				inBlockComment = false
				i++
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			inString = true
			stringOpener = c
			out = append(out, c)
		case c == '/' && cc == '/':
			inLineComment = true
			i++
		case c == '/' && cc == '*':
			inBlockComment = true
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			// whitespace outside strings is dropped
		default:
			out = append(out, c)
		}
	}

	return string(out)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of s. The empty
// string hashes to the empty string, matching the client-side convention.
func SHA256Hex(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// StringToSign builds the canonical concatenation
// "POST:path:jwt:lowerhex(sha256(minify(body))):timestamp".
func StringToSign(path, jwtToken, body, timestamp string) string {
	bodyHash := SHA256Hex(Minify(body))
	return "POST" + ":" + path + ":" + jwtToken + ":" + bodyHash + ":" + timestamp
}

// HMACSHA512 returns the base64-encoded HMAC-SHA512 of data under secret.
func HMACSHA512(data, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature for the canonical inputs and compares it
// against the presented value in constant time.
func Verify(path, jwtToken, body, timestamp, secret, presented string) bool {
	expected := HMACSHA512(StringToSign(path, jwtToken, body, timestamp), secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// JWTKey derives the shared HS256 verification key from the configured
// secret: the ASCII hex encoding of its SHA-256 digest. The hex string
// itself is the key material, not the raw digest bytes.
func JWTKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}
