// Package supabase verifies Admin session tokens issued by Supabase Auth.
package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

const audience = "authenticated"

var ErrInvalidToken = errors.New("invalid supabase token")

type (
	// Verifier implements profile.IdentityVerifier.
	// Tokens are verified locally with the project JWT secret when it is set, and by the Auth REST API otherwise.
	Verifier struct {
		url       string
		anonKey   string
		jwtSecret []byte
		client    *http.Client
	}

	claims struct {
		jwt.RegisteredClaims
		Email        string                 `json:"email"`
		UserMetadata map[string]interface{} `json:"user_metadata"`
	}

	user struct {
		ID           string                 `json:"id"`
		Email        string                 `json:"email"`
		UserMetadata map[string]interface{} `json:"user_metadata"`
	}
)

var _ profile.IdentityVerifier = (*Verifier)(nil)

func NewVerifier(conf *core.Config) *Verifier {
	return &Verifier{
		url:       conf.Supabase.URL,
		anonKey:   conf.Supabase.AnonKey,
		jwtSecret: []byte(conf.Supabase.JWTSecret),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (profile.Identity, error) {
	if len(v.jwtSecret) > 0 {
		if ident, err := v.verifyLocal(token); err == nil {
			return ident, nil
		}
	}
	if v.url == "" {
		return profile.Identity{}, ErrInvalidToken
	}
	return v.verifyRemote(ctx, token)
}

func (v *Verifier) verifyLocal(token string) (profile.Identity, error) {
	c := new(claims)
	_, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return v.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return profile.Identity{}, errors.Wrap(err, "parsing token")
	}
	if c.Subject == "" {
		return profile.Identity{}, ErrInvalidToken
	}
	return profile.Identity{ID: c.Subject, Email: c.Email, Name: metadataName(c.UserMetadata)}, nil
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (profile.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url+"/auth/v1/user", nil)
	if err != nil {
		return profile.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.anonKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return profile.Identity{}, errors.Wrap(err, "calling supabase auth")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return profile.Identity{}, errors.Wrapf(ErrInvalidToken, "supabase auth returned %d", resp.StatusCode)
	}

	var u user
	if err = json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return profile.Identity{}, errors.Wrap(err, "decoding supabase user")
	}
	if u.ID == "" {
		return profile.Identity{}, ErrInvalidToken
	}
	return profile.Identity{ID: u.ID, Email: u.Email, Name: metadataName(u.UserMetadata)}, nil
}

func metadataName(md map[string]interface{}) string {
	for _, key := range []string{"full_name", "name"} {
		if s, ok := md[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
