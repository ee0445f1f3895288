package kinds

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// Attribute names device configs keep their data in
const (
	configDataAttr     = "config"
	configTemplateAttr = "template"
)

// DeviceConfigPayload names a stored device configuration. The newest
// MaxVersions submissions are kept.
type DeviceConfigPayload struct {
	Name        string
	MaxVersions int64
}

func newDeviceConfig(args ...any) (schema.Payload, error) {
	d := &DeviceConfigPayload{MaxVersions: 1}
	switch len(args) {
	case 0:
		return d, nil
	case 2:
		return d, d.Load(args, nil)
	default:
		return nil, errArgs(2, len(args))
	}
}

func (d *DeviceConfigPayload) Fields() []any { return []any{d.Name, d.MaxVersions} }

func (d *DeviceConfigPayload) Load(fields []any, _ schema.Resolver) error {
	name, err := stringArg(fields[0], "device config name")
	if err != nil {
		return err
	}
	maxVersions, err := intArg(fields[1], "max versions")
	if err != nil {
		return err
	}
	d.Name, d.MaxVersions = name, maxVersions
	return nil
}

func (d *DeviceConfigPayload) Validate() error {
	if d.MaxVersions < 1 {
		return fmt.Errorf("%w: max versions must be at least 1, got %d", ErrBadValue, d.MaxVersions)
	}
	return nil
}

func (d *DeviceConfigPayload) CopyArgs() []any { return d.Fields() }

func configData(ctx context.Context, dcon *store.Node) (*store.Node, *DeviceConfigPayload, error) {
	p, ok := dcon.Payload().(*DeviceConfigPayload)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not a device config", ErrBadValue, dcon.Describe())
	}
	if _, err := dcon.ListChildren(ctx, store.Include(string(VersionedAttribute))); err != nil {
		return nil, nil, err
	}
	data := dcon.AttributeNode(configDataAttr)
	if data != nil {
		if _, ok := data.Payload().(*VersionedAttributePayload); !ok {
			return nil, nil, fmt.Errorf("%w: %s keeps %q in a %s", ErrBadValue, dcon.Describe(), configDataAttr, data.TypeName())
		}
	}
	return data, p, nil
}

// AddConfig stores data as the newest version of a device config
func AddConfig(ctx context.Context, dcon *store.Node, data []byte) error {
	existing, p, err := configData(ctx, dcon)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := dcon.CommitChild(ctx, VersionedAttribute, configDataAttr, TypeBinary, slices.Clone(data), p.MaxVersions)
		return err
	}
	va := existing.Payload().(*VersionedAttributePayload)
	if va.Max != p.MaxVersions {
		if err := existing.SetField(ctx, 3, p.MaxVersions); err != nil {
			return err
		}
	}
	return SetValue(ctx, existing, slices.Clone(data))
}

// Configs returns the stored versions of a device config, oldest first
func Configs(ctx context.Context, dcon *store.Node) ([][]byte, error) {
	existing, _, err := configData(ctx, dcon)
	if err != nil || existing == nil {
		return nil, err
	}
	var out [][]byte
	for _, v := range existing.Payload().(*VersionedAttributePayload).Values {
		if b, ok := v.([]byte); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// LatestConfig returns the newest version of a device config, or nil
func LatestConfig(ctx context.Context, dcon *store.Node) ([]byte, error) {
	configs, err := Configs(ctx, dcon)
	if err != nil || len(configs) == 0 {
		return nil, err
	}
	return configs[len(configs)-1], nil
}

// SetConfigTemplate stores the text of a device config template
func SetConfigTemplate(ctx context.Context, tmpl *store.Node, text string) error {
	if tmpl.TypeID() != DeviceConfigTemplate {
		return fmt.Errorf("%w: %s is not a device config template", ErrBadValue, tmpl.Describe())
	}
	_, err := SetAttribute(ctx, tmpl, configTemplateAttr, TypeText, text)
	return err
}

// ExpandConfigTemplate fills the ${keyword} placeholders of a device
// config template. Keywords without a value are an error.
func ExpandConfigTemplate(ctx context.Context, tmpl *store.Node, keywords map[string]string) (string, error) {
	if tmpl.TypeID() != DeviceConfigTemplate {
		return "", fmt.Errorf("%w: %s is not a device config template", ErrBadValue, tmpl.Describe())
	}
	if _, err := tmpl.ListChildren(ctx, store.Include(string(Attribute))); err != nil {
		return "", err
	}
	text, _ := GetAttribute(tmpl, configTemplateAttr, "").(string)

	missing := make(map[string]bool)
	out := os.Expand(text, func(key string) string {
		v, ok := keywords[key]
		if !ok {
			missing[key] = true
		}
		return v
	})
	if len(missing) > 0 {
		keys := slices.Sorted(maps.Keys(missing))
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(keys, ", "))
	}
	return out, nil
}
