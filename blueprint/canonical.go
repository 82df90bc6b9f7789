package blueprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Domain separates blueprint hashes from any other hashes of the same
// bytes.
const Domain = "automata/blueprint/v1"

// Canonical returns the canonical JSON for x.
//
// Object keys are sorted, strings are NFC-normalized, and nothing is
// HTML-escaped, so content that differs only in key order or Unicode
// normalization has the same canonical form.
func Canonical(x interface{}) ([]byte, error) {
	js, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err := json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, y); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, x interface{}) error {
	switch vv := x.(type) {
	case map[string]interface{}:
		ks := make([]string, 0, len(vv))
		for k := range vv {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		buf.WriteByte('{')
		for i, k := range ks {
			if 0 < i {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, vv[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, y := range vv {
			if 0 < i {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, y); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case string:
		return writeString(buf, vv)
	default:
		js, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(js)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// Hash is SHA-256 over the domain, a zero byte, and the data.
func Hash(data []byte) string {
	h := sha256.New()
	h.Write([]byte(Domain))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ID returns the blueprint id for the content along with the
// canonical bytes it hashed.
func ID(c *Content) (string, []byte, error) {
	bs, err := Canonical(c)
	if err != nil {
		return "", nil, err
	}
	return Hash(bs), bs, nil
}
