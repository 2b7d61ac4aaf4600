// Package auth provides the permission check performed by transport openers
// before any Transport is constructed.
//
// Transports and sessions never see tokens; only the opener does.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrPermissionDenied = errors.New("auth: permission denied")

// Role is the side of the connection being opened.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Request describes one connection about to be opened.
type Request struct {
	Role    Role
	Scheme  string
	Address string
	Token   string
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s://%s", r.Role, r.Scheme, r.Address)
}

// Checker decides whether a connection may be opened.
type Checker interface {
	Check(req Request) error
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) Check(Request) error { return nil }

// StaticToken requires the request token to match a single shared token.
// It is intended only for development and proofs of concept.
type StaticToken struct {
	Token string
}

func (s StaticToken) Check(req Request) error {
	if s.Token == "" {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, req)
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(req.Token)) != 1 {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, req)
	}
	return nil
}

// Allowlist permits requests whose "scheme://address" matches one of the
// path.Match patterns, e.g. "tcp://127.0.0.1:*" or "rfcomm://*".
type Allowlist struct {
	Patterns []string
}

func (a Allowlist) Check(req Request) error {
	target := req.Scheme + "://" + req.Address
	for _, p := range a.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if ok, err := path.Match(p, target); err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, req)
}

// FuncChecker adapts a function into a Checker.
type FuncChecker func(req Request) error

func (f FuncChecker) Check(req Request) error {
	return f(req)
}

// Chain requires every checker to pass.
type Chain []Checker

func (c Chain) Check(req Request) error {
	for _, checker := range c {
		if checker == nil {
			continue
		}
		if err := checker.Check(req); err != nil {
			return err
		}
	}
	return nil
}
