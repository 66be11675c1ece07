package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

const (
	contextProfileKey  = "profile"
	contextClaimsKey   = "claims"
	contextIdentityKey = "identity"

	studentAudience = "students"
)

// Claims represents the authorization claims transmitted via a Student JWT.
type Claims struct {
	jwt.RegisteredClaims
	OrigIssuedAt int64  `json:"orig_iat,omitempty"`
	Username     string `json:"username,omitempty"`
	AdminID      string `json:"admin_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

// GetStudentClaims returns the claims of a new token for the Student.
// origIat is the issue time of the first token of the session, it defaults to now.
func GetStudentClaims(conf *core.Config, student profile.Profile, origIat ...int64) *Claims {
	now := core.NowFunc()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    conf.AppName,
			Subject:   student.ID,
			Audience:  jwt.ClaimStrings{studentAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(conf.Server.JWTExpirationDelta)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OrigIssuedAt: oriat,
		Username:     student.Username,
		AdminID:      student.AdminID,
		Role:         student.Role,
	}
}

// GenerateToken generates a signed JWT token string representing the Student Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func parseStudentToken(conf *core.Config, token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(conf.SecretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(conf.AppName),
		jwt.WithAudience(studentAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(core.NowFunc),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// tokenIssuer returns the unverified `iss` claim of the token.
func tokenIssuer(token string) string {
	claims := new(jwt.RegisteredClaims)
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Issuer
}

func bearerToken(req *http.Request) (string, bool) {
	parts := strings.SplitN(req.Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// authMiddleware authenticates Students with the app's JWTs and Admins with their Supabase session tokens.
// The issuer of the token selects how it is verified.
// When allowUnregistered is set, a verified Supabase identity without a profile is let through.
func authMiddleware(deps ServerDeps, allowUnregistered bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, ok := bearerToken(ctx.Request())
			if !ok {
				return errMissingToken
			}
			reqCtx := ctx.Request().Context()

			var p profile.Profile
			if tokenIssuer(token) == deps.Conf.AppName {
				claims, err := parseStudentToken(deps.Conf, token)
				if err != nil {
					return errInvalidToken
				}
				if p, err = deps.ProfileSvc.GetByID(reqCtx, claims.Subject); err != nil {
					if errors.Cause(err) == profile.ErrNotFound {
						return errProfileNotFound
					}
					return errors.Wrap(err, "finding profile by ID")
				}
				if !p.IsStudent() {
					return errInvalidToken
				}
				ctx.Set(contextClaimsKey, *claims)
			} else {
				if deps.Verifier == nil {
					return errInvalidToken
				}
				ident, err := deps.Verifier.Verify(reqCtx, token)
				if err != nil {
					deps.Logger.Debug("verifying supabase token", err)
					return errInvalidToken
				}
				ctx.Set(contextIdentityKey, ident)

				if p, err = deps.ProfileSvc.GetByID(reqCtx, ident.ID); err != nil {
					if errors.Cause(err) == profile.ErrNotFound {
						if allowUnregistered {
							return next(ctx)
						}
						return errProfileNotFound
					}
					return errors.Wrap(err, "finding profile by ID")
				}
				if p.IsStudent() {
					return errUnauthorized
				}
			}

			if !p.IsActive {
				return errAccountDeactivated
			}
			ctx.Set(contextProfileKey, p)
			return next(ctx)
		}
	}
}

func getContextProfile(ctx echo.Context) (profile.Profile, error) {
	if p, ok := ctx.Get(contextProfileKey).(profile.Profile); ok {
		return p, nil
	}
	return profile.Profile{}, errUnauthorized
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(Claims); ok {
		return claims, nil
	}
	return Claims{}, errUnauthorized
}

func roleMiddleware(allowed func(profile.Profile) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextProfile(ctx)
			if err != nil {
				return err
			}
			if !allowed(p) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

var (
	adminOnly      = roleMiddleware(profile.Profile.IsAdmin)
	superAdminOnly = roleMiddleware(profile.Profile.IsSuperAdmin)
	studentOnly    = roleMiddleware(profile.Profile.IsStudent)
)

func authenticate(ctx echo.Context, deps ServerDeps, uname, pwd string) (*Claims, error) {
	reqCtx := ctx.Request().Context()
	student, err := deps.ProfileSvc.GetByUsername(reqCtx, uname)
	if err != nil {
		if errors.Cause(err) == profile.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding profile by username")
	}
	if !student.IsStudent() {
		return nil, errAuthenticationFailed
	}
	if err = student.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !student.IsActive {
		return nil, errAccountDeactivated
	}
	student, err = deps.ProfileSvc.SetLastLogin(reqCtx, student)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return GetStudentClaims(deps.Conf, student), nil
}

func refreshToken(ctx echo.Context, deps ServerDeps) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	student, err := getContextProfile(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context profile")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(deps.Conf.Server.JWTRefreshExpirationDelta)
	if core.NowFunc().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := GenerateToken(deps.Conf, GetStudentClaims(deps.Conf, student, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}
