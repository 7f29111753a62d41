package event

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ByteString holds raw bytes read from a tracee. It is not required to be
// valid UTF-8.
type ByteString string

// Valid reports whether the bytes are valid UTF-8.
func (b ByteString) Valid() bool {
	return utf8.ValidString(string(b))
}

// Lossy returns the value with invalid sequences replaced by U+FFFD.
func (b ByteString) Lossy() string {
	if b.Valid() {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// String implements fmt.Stringer using the lossy conversion.
func (b ByteString) String() string {
	return b.Lossy()
}

type lossyByteString struct {
	Lossy  string `json:"lossy"`
	Base64 string `json:"base64"`
}

// MarshalJSON emits a plain JSON string for valid UTF-8 and an object with a
// lossy rendering plus the base64 encoded raw bytes otherwise.
func (b ByteString) MarshalJSON() ([]byte, error) {
	if b.Valid() {
		return json.Marshal(string(b))
	}
	return json.Marshal(lossyByteString{
		Lossy:  b.Lossy(),
		Base64: base64.StdEncoding.EncodeToString([]byte(b)),
	})
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON.
func (b *ByteString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = ByteString(s)
		return nil
	}
	var l lossyByteString
	if err := json.Unmarshal(data, &l); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(l.Base64)
	if err != nil {
		return err
	}
	*b = ByteString(raw)
	return nil
}

// ByteStrings converts a slice of Go strings without copying bytes.
func ByteStrings(ss []string) []ByteString {
	if ss == nil {
		return nil
	}
	out := make([]ByteString, len(ss))
	for i, s := range ss {
		out[i] = ByteString(s)
	}
	return out
}

// Strings converts back to plain Go strings, raw bytes untouched.
func Strings(bs []ByteString) []string {
	if bs == nil {
		return nil
	}
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
