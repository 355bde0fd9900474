package pagination

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	weberrors "github.com/conduit-lang/crudgen/pkg/web/errors"
	"github.com/conduit-lang/crudgen/pkg/web/query"
)

// tokenVersion is the first byte of every token. Decoders accept payloads
// whose fields were added later; unknown fields are ignored.
const tokenVersion byte = 1

// tokenKind is the second byte of every token
type tokenKind byte

const (
	kindOffset tokenKind = 'o'
	kindCursor tokenKind = 'c'
)

// offsetState is the payload of an offset-mode filter token
type offsetState struct {
	Filter      query.Tree      `msgpack:"w"`
	Order       query.OrderSpec `msgpack:"s"`
	Limit       int             `msgpack:"l"`
	WithDeleted bool            `msgpack:"d"`
}

// cursorState is the payload of a cursor-mode continuation token
type cursorState struct {
	Filter      query.Tree      `msgpack:"w"`
	Order       query.OrderSpec `msgpack:"s"`
	Values      []interface{}   `msgpack:"k"`
	Limit       int             `msgpack:"l"`
	WithDeleted bool            `msgpack:"d"`
}

var tokenEncoding = base64.RawURLEncoding

// encodeToken renders base64url(version | kind | msgpack(state))
func encodeToken(kind tokenKind, state interface{}) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte(tokenVersion)
	buf.WriteByte(byte(kind))

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(state); err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return tokenEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeToken reverses encodeToken. Any malformation is an InvalidToken
// validation error naming the parameter.
func decodeToken(param string, kind tokenKind, token string, state interface{}) error {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return weberrors.Validation(weberrors.InvalidToken, param, "token is not valid base64url")
	}
	if len(raw) < 2 {
		return weberrors.Validation(weberrors.InvalidToken, param, "token is truncated")
	}
	if raw[0] != tokenVersion {
		return weberrors.Validation(weberrors.InvalidToken, param, "unsupported token version %d", raw[0])
	}
	if tokenKind(raw[1]) != kind {
		return weberrors.Validation(weberrors.InvalidToken, param, "token belongs to another pagination type")
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw[2:]))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(state); err != nil {
		return weberrors.Validation(weberrors.InvalidToken, param, "token payload is corrupt")
	}
	return nil
}

// countState is hashed to key cached totals
type countState struct {
	Filter      query.Tree `msgpack:"w"`
	WithDeleted bool       `msgpack:"d"`
}

// Fingerprint returns a stable key for the total of a filtered read. Equal
// normalized filters yield equal fingerprints.
func Fingerprint(filter query.Tree, withDeleted bool) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(countState{Filter: filter, WithDeleted: withDeleted}); err != nil {
		return "", fmt.Errorf("failed to fingerprint filter: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
