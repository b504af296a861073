package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// VKParamsHeader carries base64(JSON) launch parameters on inbound requests.
const VKParamsHeader = "X-VK-Params"

// vkPrefix marks the parameters VK includes in the signature.
const vkPrefix = "vk_"

// LaunchParams is the validated form of the launch parameters a VK client
// forwards with each request. Fields holds every parameter string-coerced;
// Sign is the detached signature. The value is ephemeral: it lives for one
// verification call.
type LaunchParams struct {
	Sign   string
	Fields map[string]string
}

// VKUserID returns the vk_user_id parameter, or "" if absent.
func (p *LaunchParams) VKUserID() string {
	return p.Fields["vk_user_id"]
}

// ParseLaunchParams decodes a base64(JSON object) header value into
// LaunchParams. JSON strings, numbers, and booleans are coerced to strings
// the way VK's own clients serialize them; nulls and nested values are
// dropped. Undecodable input yields an error; signature validity is not
// checked here.
func ParseLaunchParams(encoded string) (*LaunchParams, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// some clients strip the padding
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding vk params: %w", err)
		}
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("parsing vk params: %w", err)
	}

	params := &LaunchParams{Fields: make(map[string]string, len(obj))}
	for key, value := range obj {
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		default:
			continue
		}
		if key == "sign" {
			params.Sign = s
			continue
		}
		params.Fields[key] = s
	}

	return params, nil
}

// VerifyLaunchParams checks the launch-parameter signature against the VK
// app secret. The algorithm follows VK's documentation exactly: take the
// vk_-prefixed parameters, sort them by key (byte order), join
// key=encodeURIComponent(value) pairs with "&", HMAC-SHA256 the result with
// the secret, URL-safe-base64 the digest without padding, and compare to the
// sign field in constant time.
//
// Every failure mode is a boolean false. No errors cross this boundary.
func VerifyLaunchParams(params *LaunchParams, secret string) bool {
	if params == nil || params.Sign == "" {
		return false
	}

	canonical, ok := canonicalString(params.Fields)
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	digest := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(digest), []byte(params.Sign))
}

// canonicalString builds the HMAC input: vk_-prefixed entries sorted by key
// in byte order, joined as key=encodeURIComponent(value) with "&".
// ok is false when no vk_ parameter is present.
func canonicalString(fields map[string]string) (string, bool) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if strings.HasPrefix(key, vkPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+encodeURIComponent(fields[key]))
	}
	return strings.Join(pairs, "&"), true
}

// uriComponentKeep restores the characters encodeURIComponent leaves literal
// but url.QueryEscape does not.
var uriComponentKeep = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent mirrors the JavaScript encoder VK signs with:
// query escaping with space as %20 and !'()*~ kept literal.
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return uriComponentKeep.Replace(escaped)
}
