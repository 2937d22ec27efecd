package peer

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/roach88/hgpeer/internal/message"
)

// Identity describes a peer independently of how it is reached.
type Identity struct {
	ID       string `json:"uuid"`
	Name     string `json:"name,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Address  string `json:"ipaddress,omitempty"`
}

// Identity content keys, as exchanged by affirm-identity.
const (
	identityKeyID       = "uuid"
	identityKeyName     = "name"
	identityKeyHostname = "hostname"
	identityKeyAddress  = "ipaddress"
)

// NewIdentity creates an identity with a fresh UUIDv7. An empty hostname is
// taken from the operating system.
func NewIdentity(name, hostname, address string) Identity {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return Identity{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Name:     name,
		Hostname: hostname,
		Address:  address,
	}
}

// Content returns the identity as message content.
func (id Identity) Content() map[string]any {
	c := map[string]any{identityKeyID: id.ID}
	if id.Name != "" {
		c[identityKeyName] = id.Name
	}
	if id.Hostname != "" {
		c[identityKeyHostname] = id.Hostname
	}
	if id.Address != "" {
		c[identityKeyAddress] = id.Address
	}
	return c
}

// String returns the name when set, otherwise the id.
func (id Identity) String() string {
	if id.Name != "" {
		return id.Name
	}
	return id.ID
}

// ParseIdentity reads an identity from message content.
func ParseIdentity(content any) (Identity, error) {
	var fields map[string]any
	switch c := content.(type) {
	case map[string]any:
		fields = c
	case message.Message:
		fields = c
	default:
		return Identity{}, fmt.Errorf("identity content: expected object, got %T", content)
	}

	str := func(key string) (string, error) {
		v, ok := fields[key]
		if !ok || v == nil {
			return "", nil
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("identity content: %s is %T, not a string", key, v)
		}
		return s, nil
	}

	var (
		id  Identity
		err error
	)
	if id.ID, err = str(identityKeyID); err != nil {
		return Identity{}, err
	}
	if id.ID == "" {
		return Identity{}, fmt.Errorf("identity content: missing %s", identityKeyID)
	}
	if _, err := uuid.Parse(id.ID); err != nil {
		return Identity{}, fmt.Errorf("identity content: %s: %w", identityKeyID, err)
	}
	if id.Name, err = str(identityKeyName); err != nil {
		return Identity{}, err
	}
	if id.Hostname, err = str(identityKeyHostname); err != nil {
		return Identity{}, err
	}
	if id.Address, err = str(identityKeyAddress); err != nil {
		return Identity{}, err
	}
	return id, nil
}
