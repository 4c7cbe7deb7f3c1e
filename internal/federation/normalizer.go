package federation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"oauthfed/pkg/oauth2"
)

// Aliases are probed in order; the first present non-empty value wins.
var (
	remoteIDAliases = []string{"id", "sub", "user_id", "uid"}
	emailAliases    = []string{"email", "mail", "user_email", "primary_email"}
	nameAliases     = []string{"name", "display_name", "full_name", "given_name"}
	avatarAliases   = []string{"picture", "avatar_url", "avatar", "profile_picture"}
)

const emailVerifiedKey = "email_verified"

// Profile is the provider-independent view of a userinfo document.
type Profile struct {
	RemoteUserID string
	Email        string
	Name         string
	AvatarURL    string
	// EmailVerified is nil when the provider says nothing about it.
	EmailVerified *bool
}

// EmailUnverified reports whether the provider explicitly marked the email unverified.
func (p *Profile) EmailUnverified() bool {
	return p.EmailVerified != nil && !*p.EmailVerified
}

func NormalizeProfile(raw oauth2.RawProfile) (*Profile, error) {
	remoteID, ok := firstValue(raw, remoteIDAliases)
	if !ok {
		return nil, fmt.Errorf("%w: no user id in any of %v", ErrMalformedProfile, remoteIDAliases)
	}

	p := &Profile{RemoteUserID: remoteID}
	p.Email, _ = firstValue(raw, emailAliases)
	p.Name, _ = firstValue(raw, nameAliases)
	p.AvatarURL, _ = firstValue(raw, avatarAliases)
	p.EmailVerified = boolValue(raw[emailVerifiedKey])
	return p, nil
}

func firstValue(raw map[string]any, aliases []string) (string, bool) {
	for _, key := range aliases {
		v, present := raw[key]
		if !present {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// scalarString coerces strings and numbers. Objects, arrays, booleans and null are rejected.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		// Integers wider than int64 keep their exact digits.
		if !strings.ContainsAny(t.String(), ".eE") {
			return t.String(), true
		}
		f, err := t.Float64()
		if err != nil {
			return t.String(), true
		}
		return formatFloat(f), true
	case float64:
		return formatFloat(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func boolValue(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		switch strings.ToLower(t) {
		case "true":
			b = true
		case "false":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}
