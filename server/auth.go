// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// The engine endpoint authenticates with short-lived HS256 bearer tokens.
// The only required claim is iat, within ±60 seconds of server time, which
// is what the consensus driver sends.
const jwtValidDuration = 60 * time.Second

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrStaleToken   = errors.New("token issued-at outside the allowed window")
)

// validateJWT checks the Authorization header value against the secret.
func validateJWT(authorization string, secret []byte) error {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return ErrMissingToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return errors.New("token has no iat claim")
	}
	skew := time.Since(time.Unix(int64(issuedAt), 0))
	if skew > jwtValidDuration || skew < -jwtValidDuration {
		return ErrStaleToken
	}
	return nil
}
