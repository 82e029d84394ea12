package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("config: Workers must be 1-64, got %d", c.Workers)
	}

	if c.DeleteTimeout < time.Second {
		return fmt.Errorf("config: DeleteTimeout must be >= 1s, got %v", c.DeleteTimeout)
	}

	if c.NamespaceTimeout < c.DeleteTimeout {
		return fmt.Errorf("config: NamespaceTimeout must be >= DeleteTimeout (%v), got %v",
			c.DeleteTimeout, c.NamespaceTimeout)
	}

	if c.ListPageSize < 1 {
		return fmt.Errorf("config: ListPageSize must be >= 1, got %d", c.ListPageSize)
	}

	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("config: StatusPort must be 0-65535, got %d", c.StatusPort)
	}

	if c.MinJobAge < 0 {
		return fmt.Errorf("config: MinJobAge must be >= 0, got %v", c.MinJobAge)
	}

	if strings.ContainsAny(c.NamespaceFilter, "?[") {
		return fmt.Errorf("config: NamespaceFilter supports only the * wildcard, got %q", c.NamespaceFilter)
	}

	return nil
}
