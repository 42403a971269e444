package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUndecodableSession means neither the structured nor the generic decode
// could rebuild a session from the stored payload.
var ErrUndecodableSession = errors.New("undecodable cached session")

// EncodeSession serialises a session for the cache store.
func EncodeSession(s *CachedSession) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	return json.Marshal(s)
}

// DecodeSession reads a stored payload. It first tries a structured decode and
// falls back to rebuilding the record from a generic map, which covers entries
// written by other serializers (numbers as strings, type-wrapped objects and
// so on). fallback reports whether the second path was needed.
func DecodeSession(data []byte) (s *CachedSession, fallback bool, err error) {
	var direct CachedSession
	if err := json.Unmarshal(data, &direct); err == nil {
		direct.Email = storedEmail(direct.Email)
		if direct.Email != "" {
			return &direct, false, nil
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUndecodableSession, err)
	}
	m, ok := unwrapTyped(generic)
	if !ok {
		return nil, true, fmt.Errorf("%w: payload is %T, not an object", ErrUndecodableSession, generic)
	}
	s, err = DecodeSessionMap(m)
	return s, true, err
}

// unwrapTyped accepts a bare object or a ["<type name>", {...}] wrapper.
func unwrapTyped(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) == 2 {
			if _, isName := t[0].(string); isName {
				m, ok := t[1].(map[string]any)
				return m, ok
			}
		}
	}
	return nil, false
}

// DecodeSessionMap rebuilds a session field by field from a loosely typed
// map, coercing each value to the declared type.
func DecodeSessionMap(m map[string]any) (*CachedSession, error) {
	c := coercer{m: m}
	s := &CachedSession{
		EmployerID:            c.integer("employerId", "id"),
		BranchID:              c.integer("branchId"),
		NicName:               c.str("employerNicName"),
		FirstName:             c.str("employerFirstName", "firstName"),
		LastName:              c.str("employerLastName", "lastName"),
		Email:                 storedEmail(c.str("employerEmail", "email")),
		Phone:                 c.str("employerPhone", "phone"),
		Address:               c.str("employerAddress", "address"),
		Salary:                c.float("employerSalary", "salary"),
		NIC:                   c.str("employerNic", "nic"),
		Gender:                c.str("gender"),
		DateOfBirth:           c.str("dateOfBirth"),
		Pin:                   int(c.integer("pin")),
		ActiveStatus:          c.boolean("activeStatus"),
		AccessToken:           c.str("accessToken"),
		RefreshToken:          c.str("refreshToken"),
		LoginTimestamp:        c.millis("loginTimestamp"),
		LastActivityTimestamp: c.millis("lastActivityTimestamp"),
		ExpiresAt:             c.millis("expiresAt"),
		Revoked:               c.boolean("revoked"),
	}
	// unknown roles fall back to the least privileged one
	if role, err := ParseRole(c.str("role")); err == nil {
		s.Role = role
	}

	if len(c.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableSession, errors.Join(c.errs...))
	}
	if s.Email == "" {
		return nil, fmt.Errorf("%w: missing employer email", ErrUndecodableSession)
	}
	return s, nil
}

// storedEmail is the cache key form of an email, whichever path decoded it.
func storedEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// coercer collects the first conversion error per field instead of failing
// fast, so the log line names every bad field at once.
type coercer struct {
	m    map[string]any
	errs []error
}

func (c *coercer) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := c.m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func (c *coercer) fail(key string, v any) {
	c.errs = append(c.errs, fmt.Errorf("field %s: cannot use %T %v", key, v, v))
}

func (c *coercer) str(keys ...string) string {
	k, v, ok := c.lookup(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	c.fail(k, v)
	return ""
}

func (c *coercer) float(keys ...string) float64 {
	k, v, ok := c.lookup(keys...)
	if !ok {
		return 0
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	c.fail(k, v)
	return 0
}

func (c *coercer) integer(keys ...string) int64 {
	k, v, ok := c.lookup(keys...)
	if !ok {
		return 0
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	if s, ok := v.(string); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
	}
	if f, ok := toFloat(v); ok && f == math.Trunc(f) && math.Abs(f) < 1<<62 {
		return int64(f)
	}
	c.fail(k, v)
	return 0
}

func (c *coercer) boolean(keys ...string) bool {
	k, v, ok := c.lookup(keys...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
	}
	c.fail(k, v)
	return false
}

// millis accepts epoch milliseconds as a number or string, or an RFC 3339
// timestamp.
func (c *coercer) millis(key string) int64 {
	if _, v, ok := c.lookup(key); ok {
		if s, isStr := v.(string); isStr {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
				return ts.UnixMilli()
			}
		}
	}
	return c.integer(key)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
