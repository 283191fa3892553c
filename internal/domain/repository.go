package domain

import "strings"

// AddressPrefix is the scheme prefix of logical repository addresses
const AddressPrefix = "tree:"

// Credentials are handed to the store client when a connection is opened
type Credentials struct {
	// Username and Password are used for basic authentication
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Token is a bearer token; it takes precedence over Username/Password
	Token string `mapstructure:"token"`
}

// IsZero reports whether no credentials were supplied
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Token == ""
}

// Repository defines a named remote repository
type Repository struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// URL is the logical address, e.g. tree:file:///srv/repo/releases
	URL string `mapstructure:"url"`

	// Credentials for the store client
	Credentials `mapstructure:",squash"`
}

// Validate checks if the repository is properly configured
func (r Repository) Validate() error {
	if r.Name == "" {
		return ErrConfigInvalid
	}
	if !strings.HasPrefix(r.URL, AddressPrefix) {
		return ErrConfigInvalid
	}
	return nil
}

// AutoPropRule attaches properties to newly added files whose base name
// matches Pattern (path.Match syntax)
type AutoPropRule struct {
	Pattern    string            `mapstructure:"pattern"`
	Properties map[string]string `mapstructure:"properties"`
}
