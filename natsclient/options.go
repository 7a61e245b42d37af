package natsclient

import (
	"fmt"
	"log/slog"
	"time"
)

// ClientOption configures a Client. An option that returns an error makes
// NewClient fail with an invalid-config error.
type ClientOption func(*Client) error

// Auth holds connection credentials. Use either a username and password or a
// token.
type Auth struct {
	Username string
	Password string
	Token    string
}

func (a Auth) check() error {
	if a.Password != "" && a.Username == "" {
		return fmt.Errorf("password given without a username")
	}
	if a.Token != "" && a.Username != "" {
		return fmt.Errorf("token and username are mutually exclusive")
	}
	return nil
}

// WithAuth sets the credentials presented on connect.
func WithAuth(a Auth) ClientOption {
	return func(c *Client) error {
		if err := a.check(); err != nil {
			return err
		}
		c.username, c.password, c.token = a.Username, a.Password, a.Token
		return nil
	}
}

// WithReconnect sets how often and how far apart the connection retries after
// it drops. max of -1 retries forever; a zero wait keeps the default.
func WithReconnect(max int, wait time.Duration) ClientOption {
	return func(c *Client) error {
		if max < -1 {
			return fmt.Errorf("max reconnects %d is below -1", max)
		}
		c.maxReconnects = max
		if wait > 0 {
			c.reconnectWait = wait
		}
		return nil
	}
}

// WithCircuitBreaker sets the failures that open the circuit and the ceiling
// for its doubling backoff. A zero maxBackoff keeps the default.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("circuit threshold must be at least 1, got %d", threshold)
		}
		if maxBackoff != 0 && maxBackoff < time.Second {
			return fmt.Errorf("circuit max backoff %v is below the 1s initial backoff", maxBackoff)
		}
		c.circuitThreshold = threshold
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
		return nil
	}
}

// WithName sets the connection name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
