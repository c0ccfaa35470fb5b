package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

// Error kinds returned by the catalog service. They are wrapped with a
// human readable message so callers must use errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrNoCopiesAvailable = errors.New("no copies available")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPersistence       = errors.New("persistence failure")
)

type (
	ContextKey        string
	missingFieldError string
)

const (
	RequestIDPrefix         string     = "r"
	RequestIDContextKey     ContextKey = "request.id"
	RequestNumberContextKey ContextKey = "request.number"
	IdentityContextKey      ContextKey = "request.identity"
	ConnContextKey          ContextKey = "http-conn"
)

func (m missingFieldError) Error() string {
	return string(m) + " is required"
}

// invalidInput tags a request decoding or validation error as ErrInvalidInput.
func invalidInput(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// AddBookRequest is the payload of a book creation request.
type AddBookRequest struct {
	Title  string `json:"title"`
	Copies int    `json:"copies"`
}

// IssueBookRequest is the payload of a loan creation request.
type IssueBookRequest struct {
	Title string `json:"title"`
}

// LoginRequest is the payload of a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// GetValueFromContext returns the value of a given key in the context
// if this key is not available, it returns an empty string.
func GetValueFromContext(ctx context.Context, contextKey ContextKey) string {
	if val, ok := ctx.Value(contextKey).(string); ok {
		return val
	}
	return ""
}

// GetRequestNumberFromContext returns the request number set in
// the context. if not previously set then it returns 0.
func GetRequestNumberFromContext(ctx context.Context) uint64 {
	if val, ok := ctx.Value(RequestNumberContextKey).(uint64); ok {
		return val
	}
	return 0
}

// GetIdentityFromContext returns the authenticated caller if any.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(Identity)
	return id, ok
}

// DecodeRequestBody is a helper function to read the json content of a request.
func DecodeRequestBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("invalid request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// ValidateAddBookRequestBody checks the content of a book creation request.
func ValidateAddBookRequestBody(req *AddBookRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) == 0 {
		return missingFieldError("title")
	}
	if req.Copies < 1 {
		return errors.New("copies must be at least 1")
	}
	return nil
}

// ValidateIssueBookRequestBody checks the content of a loan creation request.
func ValidateIssueBookRequestBody(req *IssueBookRequest) error {
	if len(req.Title) == 0 {
		return missingFieldError("title")
	}
	return nil
}

// ValidateLoginRequestBody checks the content of a login request.
func ValidateLoginRequestBody(req *LoginRequest) error {
	if len(req.Username) == 0 {
		return missingFieldError("username")
	}
	if len(req.Password) == 0 {
		return missingFieldError("password")
	}
	return nil
}

// GetRequestSourceIP helps find the source IP of the caller.
func GetRequestSourceIP(r *http.Request) string {
	// Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip
	}

	// Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	for _, ip := range strings.Split(ips, ",") {
		ip = strings.TrimSpace(ip)
		if netIP = net.ParseIP(ip); netIP != nil {
			return ip
		}
	}

	// Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	if netIP = net.ParseIP(ip); netIP != nil {
		return ip
	}
	return ""
}

// IsAppRunningInDocker checks the existence of the .dockerenv
// file at the root directory and returns a boolean result.
func IsAppRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

// SaveConnInContext is the hook used by the server under ConnContext.
// It keeps the connection for the read/write deadline updates.
func SaveConnInContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, ConnContextKey, c)
}

// GetConnFromContext returns the connection saved into the context or nil.
func GetConnFromContext(ctx context.Context) net.Conn {
	c, _ := ctx.Value(ConnContextKey).(net.Conn)
	return c
}
