package kinds

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"ipamclient/internal/schema"
)

// PasswordKeyPayload marks a node passwords can be encrypted with. The
// key material itself never leaves the server.
type PasswordKeyPayload struct{}

func newPasswordKey(args ...any) (schema.Payload, error) {
	if len(args) > 0 {
		return nil, errArgs(0, len(args))
	}
	return &PasswordKeyPayload{}, nil
}

func (k *PasswordKeyPayload) Fields() []any                         { return []any{} }
func (k *PasswordKeyPayload) Load(_ []any, _ schema.Resolver) error { return nil }
func (k *PasswordKeyPayload) CopyArgs() []any                       { return nil }

// PasswordPayload holds a password and the OID of the key protecting it.
// KeyOID is empty for unencrypted passwords.
type PasswordPayload struct {
	Password string
	KeyOID   string
	// Key is set when the key was mirrored at load time
	Key *PasswordKeyPayload
}

func newPassword(args ...any) (schema.Payload, error) {
	p := &PasswordPayload{}
	switch len(args) {
	case 0:
		return p, nil
	case 1, 2:
		var err error
		if p.Password, err = stringArg(args[0], "password"); err != nil {
			return nil, err
		}
		if len(args) == 2 {
			if p.KeyOID, err = stringArg(args[1], "password key oid"); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return nil, errArgs(2, len(args))
	}
}

func (p *PasswordPayload) Fields() []any { return []any{p.Password, p.KeyOID} }

func (p *PasswordPayload) Load(fields []any, r schema.Resolver) error {
	password, err := stringArg(fields[0], "password")
	if err != nil {
		return err
	}
	keyOID, err := stringArg(fields[1], "password key oid")
	if err != nil {
		return err
	}
	p.Password, p.KeyOID, p.Key = password, keyOID, nil
	if keyOID != "" && r != nil {
		if payload, ok := r.Resolve(keyOID); ok {
			key, ok := payload.(*PasswordKeyPayload)
			if !ok {
				return fmt.Errorf("%w: %s is not a password key", ErrBadValue, keyOID)
			}
			p.Key = key
		}
	}
	return nil
}

func (p *PasswordPayload) CopyArgs() []any { return []any{p.Password, p.KeyOID} }

// PublicKeyPayload is an ssh public key in authorized_keys format
type PublicKeyPayload struct {
	Line    string
	Comment string
	key     ssh.PublicKey
}

func newPublicKey(args ...any) (schema.Payload, error) {
	k := &PublicKeyPayload{}
	if len(args) > 0 {
		if err := k.Load(args[:1], nil); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *PublicKeyPayload) Fields() []any { return []any{k.Line} }

func (k *PublicKeyPayload) Load(fields []any, _ schema.Resolver) error {
	line, err := stringArg(fields[0], "public key")
	if err != nil {
		return err
	}
	line = strings.TrimSpace(line)
	key, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrBadValue, err)
	}
	k.Line, k.Comment, k.key = line, comment, key
	return nil
}

func (k *PublicKeyPayload) Validate() error {
	if k.key == nil {
		return fmt.Errorf("%w: empty public key", ErrBadValue)
	}
	return nil
}

func (k *PublicKeyPayload) CopyArgs() []any { return []any{k.Line} }

// KeyType returns the ssh key algorithm, for example "ssh-ed25519"
func (k *PublicKeyPayload) KeyType() string {
	if k.key == nil {
		return ""
	}
	return k.key.Type()
}

// Fingerprint returns the SHA256 fingerprint as printed by ssh-keygen
func (k *PublicKeyPayload) Fingerprint() string {
	if k.key == nil {
		return ""
	}
	return ssh.FingerprintSHA256(k.key)
}

func (k *PublicKeyPayload) Compare(other schema.Payload) (int, bool) {
	o, ok := other.(*PublicKeyPayload)
	if !ok {
		return 0, false
	}
	return cmp.Compare(k.Comment, o.Comment), true
}
