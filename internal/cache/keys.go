package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// paramHashWidth is the number of hex characters kept from the digest
const paramHashWidth = 16

// Key builds "category:identifier[:paramhash]". Parameter maps that hold the
// same pairs produce the same key regardless of insertion order.
func Key(category Category, identifier string, params map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(string(category))
	b.WriteByte(':')
	b.WriteString(identifier)

	if h := ParamHash(params); h != "" {
		b.WriteByte(':')
		b.WriteString(h)
	}
	return b.String()
}

// ParamHash returns a short stable digest of params, or "" when params is
// empty. encoding/json writes map keys in sorted order at every depth, which
// makes the encoding canonical.
func ParamHash(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}

	data, err := json.Marshal(params)
	if err != nil {
		// fmt also prints maps in key order.
		data = []byte(fmt.Sprintf("%#v", params))
	}

	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])[:paramHashWidth]
}
