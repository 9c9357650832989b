// Package sigv4 signs HTTP requests with AWS Signature Version 4.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	Algorithm       = "AWS4-HMAC-SHA256"
	TimeFormat      = "20060102T150405Z"
	DateFormat      = "20060102"
	scopeTerminator = "aws4_request"
)

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Request is the signable part of an outbound call. Headers holds the
// caller's headers; host, x-amz-date and x-amz-security-token are added by
// the signer.
type Request struct {
	Method  string
	URL     *url.URL
	Headers map[string]string
	Body    []byte
}

// Result carries the headers to attach plus the intermediate artifacts, which
// are useful when comparing against published test vectors.
type Result struct {
	Headers          map[string]string
	Authorization    string
	Signature        string
	SignedHeaders    string
	CredentialScope  string
	CanonicalRequest string
	StringToSign     string
}

type Signer struct {
	Credentials Credentials
	Region      string
	Service     string
	Now         func() time.Time
}

func (s Signer) Sign(req Request) (Result, error) {
	if strings.TrimSpace(s.Credentials.AccessKeyID) == "" || strings.TrimSpace(s.Credentials.SecretAccessKey) == "" {
		return Result{}, fmt.Errorf("sigv4: access key id and secret access key are required")
	}
	region := strings.TrimSpace(s.Region)
	service := strings.TrimSpace(s.Service)
	if region == "" || service == "" {
		return Result{}, fmt.Errorf("sigv4: region and service are required")
	}
	if req.URL == nil || strings.TrimSpace(req.URL.Host) == "" {
		return Result{}, fmt.Errorf("sigv4: request url with host is required")
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := now().UTC()
	amzDate := at.Format(TimeFormat)
	dateStamp := at.Format(DateFormat)

	headers := make(map[string]string, len(req.Headers)+3)
	for key, value := range req.Headers {
		lower := strings.ToLower(strings.TrimSpace(key))
		if lower == "" || lower == "authorization" {
			continue
		}
		headers[lower] = compressSpaces(value)
	}
	headers["host"] = strings.ToLower(strings.TrimSpace(req.URL.Host))
	headers["x-amz-date"] = amzDate
	if token := strings.TrimSpace(s.Credentials.SessionToken); token != "" {
		headers["x-amz-security-token"] = token
	}

	canonicalHeaders, signedHeaders := canonicalHeaderBlock(headers)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(req.Method)),
		canonicalURI(req.URL),
		canonicalQueryString(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		sha256Hex(req.Body),
	}, "\n")

	scope := dateStamp + "/" + region + "/" + service + "/" + scopeTerminator
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")
	signingKey := SigningKey(s.Credentials.SecretAccessKey, dateStamp, region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
	authorization := fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm,
		strings.TrimSpace(s.Credentials.AccessKeyID),
		scope,
		signedHeaders,
		signature,
	)

	out := map[string]string{
		"Authorization": authorization,
		"X-Amz-Date":    amzDate,
	}
	if token, ok := headers["x-amz-security-token"]; ok {
		out["X-Amz-Security-Token"] = token
	}
	return Result{
		Headers:          out,
		Authorization:    authorization,
		Signature:        signature,
		SignedHeaders:    signedHeaders,
		CredentialScope:  scope,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
	}, nil
}

// SignHTTP signs req in place. body must be the exact bytes sent.
func (s Signer) SignHTTP(req *http.Request, body []byte) error {
	if req == nil {
		return fmt.Errorf("sigv4: http request is required")
	}
	headers := make(map[string]string, len(req.Header))
	for key, values := range req.Header {
		if len(values) == 0 {
			continue
		}
		trimmed := make([]string, 0, len(values))
		for _, value := range values {
			trimmed = append(trimmed, strings.TrimSpace(value))
		}
		headers[key] = strings.Join(trimmed, ",")
	}
	result, err := s.Sign(Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return err
	}
	for key, value := range result.Headers {
		req.Header.Set(key, value)
	}
	return nil
}

// SigningKey derives the date, region, service key chain.
func SigningKey(secretAccessKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, scopeTerminator)
}

func canonicalURI(requestURL *url.URL) string {
	path := requestURL.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}

func canonicalHeaderBlock(headers map[string]string) (string, string) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte(':')
		b.WriteString(headers[key])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(keys, ";")
}

func canonicalQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	type entry struct {
		key   string
		value string
	}
	entries := make([]entry, 0, len(query))
	for key, values := range query {
		encodedKey := QueryEscape(key)
		if len(values) == 0 {
			entries = append(entries, entry{key: encodedKey})
			continue
		}
		for _, value := range values {
			entries = append(entries, entry{key: encodedKey, value: QueryEscape(value)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key == entries[j].key {
			return entries[i].value < entries[j].value
		}
		return entries[i].key < entries[j].key
	})

	pairs := make([]string, 0, len(entries))
	for _, item := range entries {
		pairs = append(pairs, item.key+"="+item.value)
	}
	return strings.Join(pairs, "&")
}

// QueryEscape applies the RFC 3986 encoding SigV4 expects.
func QueryEscape(value string) string {
	escaped := url.QueryEscape(value)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "*", "%2A")
	escaped = strings.ReplaceAll(escaped, "%7E", "~")
	return escaped
}

func compressSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func hmacSHA256(key []byte, value string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return mac.Sum(nil)
}

func sha256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
