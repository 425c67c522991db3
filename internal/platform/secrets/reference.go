package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://name[?version=N&project=P]. sm:// is accepted as an alias.
type reference struct {
	name    string
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: missing secret name")
	}
	q := u.Query()
	return reference{
		name:    name,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}, nil
}

func (r reference) String() string {
	return "secret://" + r.name
}

func (r reference) pinned() bool {
	return r.version != ""
}

// key identifies the value for caching. Unpinned references resolve to "latest".
func (r reference) key() string {
	v := r.version
	if v == "" {
		v = "latest"
	}
	return r.String() + "#" + v
}

// resource is the Secret Manager version name in project.
func (r reference) resource(project string) string {
	v := r.version
	if v == "" {
		v = "latest"
	}
	return "projects/" + project + "/secrets/" + r.name + "/versions/" + v
}

// masked hides the secret name in logs and metric attributes.
func (r reference) masked() string {
	sum := sha256.Sum256([]byte(r.String()))
	return hex.EncodeToString(sum[:8])
}
