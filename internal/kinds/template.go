package kinds

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"os"
	"regexp"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

var (
	// ErrMissingArgument is returned when a rule needs an argument that
	// was not given
	ErrMissingArgument = errors.New("missing template argument")
	// ErrNoFreeAddress is returned when an assign network rule finds the
	// autoassign range exhausted
	ErrNoFreeAddress = errors.New("no free address")
)

var deviceRules = []schema.TypeID{
	RuleText, RuleFixed, RuleRegmatch, RuleBool, RuleInt, RuleDeleteAttribute,
	RulePassword, RuleAssignNetwork, RuleSubdevice, RuleFlushNodes, RuleFlushAssociations,
}

var networkRules = []schema.TypeID{
	RuleText, RuleFixed, RuleRegmatch, RuleBool, RuleInt, RuleDeleteAttribute,
	RuleFlushNodes, RuleFlushAssociations,
}

// TemplatePayload is a device or network template. Inherited holds the
// OIDs of the templates whose rules come before this one's. A template
// marked InheritanceOnly cannot be applied directly.
type TemplatePayload struct {
	InheritanceOnly bool
	Inherited       []string
}

func newTemplate(args ...any) (schema.Payload, error) {
	t := &TemplatePayload{}
	switch len(args) {
	case 0:
		return t, nil
	case 1, 2:
		var err error
		if t.InheritanceOnly, err = boolArg(args[0], "inheritance only"); err != nil {
			return nil, err
		}
		if len(args) == 2 {
			if t.Inherited, err = stringsArg(args[1], "inherited templates"); err != nil {
				return nil, err
			}
		}
		return t, nil
	default:
		return nil, errArgs(2, len(args))
	}
}

func (t *TemplatePayload) Fields() []any {
	return []any{t.InheritanceOnly, anyStrings(t.Inherited)}
}

func (t *TemplatePayload) Load(fields []any, _ schema.Resolver) error {
	only, err := boolArg(fields[0], "inheritance only")
	if err != nil {
		return err
	}
	inherited, err := stringsArg(fields[1], "inherited templates")
	if err != nil {
		return err
	}
	t.InheritanceOnly, t.Inherited = only, inherited
	return nil
}

func (t *TemplatePayload) CopyArgs() []any { return t.Fields() }

var ruleArity = map[schema.TypeID]int{
	RuleText:            2,
	RuleFixed:           4,
	RuleRegmatch:        3,
	RuleBool:            3,
	RuleInt:             3,
	RuleDeleteAttribute: 1,
}

// AttributeRulePayload is a template rule that sets or deletes one
// attribute. Which fields are positional depends on the rule kind:
//
//	text              attribute, versions
//	fixed             attribute, value, expand, versions
//	regmatch          attribute, regexp, versions
//	bool / int        attribute, default, versions
//	delete attribute  attribute
type AttributeRulePayload struct {
	AttrName string
	// Value is the fixed value or the bool/int default
	Value    any
	Regexp   string
	Expand   bool
	Versions int64
	kind     schema.TypeID
}

func newAttributeRule(kind schema.TypeID) schema.Constructor {
	return func(args ...any) (schema.Payload, error) {
		r := &AttributeRulePayload{kind: kind, Versions: 1}
		switch kind {
		case RuleFixed:
			r.Value = ""
		case RuleBool:
			r.Value = false
		case RuleInt:
			r.Value = int64(0)
		}
		if len(args) == 0 {
			return r, nil
		}
		if len(args) != ruleArity[kind] {
			return nil, errArgs(ruleArity[kind], len(args))
		}
		return r, r.Load(args, nil)
	}
}

// Kind returns the rule type-id
func (r *AttributeRulePayload) Kind() schema.TypeID { return r.kind }

func (r *AttributeRulePayload) Fields() []any {
	switch r.kind {
	case RuleFixed:
		return []any{r.AttrName, r.Value, r.Expand, r.Versions}
	case RuleRegmatch:
		return []any{r.AttrName, r.Regexp, r.Versions}
	case RuleBool, RuleInt:
		return []any{r.AttrName, r.Value, r.Versions}
	case RuleDeleteAttribute:
		return []any{r.AttrName}
	default:
		return []any{r.AttrName, r.Versions}
	}
}

func (r *AttributeRulePayload) Load(fields []any, _ schema.Resolver) error {
	name, err := stringArg(fields[0], "attribute name")
	if err != nil {
		return err
	}
	out := AttributeRulePayload{AttrName: name, Versions: 1, kind: r.kind}
	rest := fields[1:]
	switch r.kind {
	case RuleFixed:
		if out.Value, err = stringArg(rest[0], "fixed value"); err != nil {
			return err
		}
		if out.Expand, err = boolArg(rest[1], "variable expansion"); err != nil {
			return err
		}
		rest = rest[2:]
	case RuleRegmatch:
		if out.Regexp, err = stringArg(rest[0], "regexp"); err != nil {
			return err
		}
		rest = rest[1:]
	case RuleBool:
		if out.Value, err = boolArg(rest[0], "default value"); err != nil {
			return err
		}
		rest = rest[1:]
	case RuleInt:
		if out.Value, err = intArg(rest[0], "default value"); err != nil {
			return err
		}
		rest = rest[1:]
	}
	if r.kind != RuleDeleteAttribute {
		if out.Versions, err = intArg(rest[0], "versions"); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

func (r *AttributeRulePayload) Validate() error {
	if r.AttrName == "" {
		return fmt.Errorf("%w: template rule without attribute name", ErrBadValue)
	}
	if r.kind != RuleDeleteAttribute && r.Versions < 1 {
		return fmt.Errorf("%w: versions must be at least 1, got %d", ErrBadValue, r.Versions)
	}
	if r.kind == RuleRegmatch {
		if _, err := regexp.Compile(r.Regexp); err != nil {
			return fmt.Errorf("%w: %v", ErrBadValue, err)
		}
	}
	return nil
}

func (r *AttributeRulePayload) CopyArgs() []any { return r.Fields() }

// value computes the attribute type and value the rule sets on target
func (r *AttributeRulePayload) value(target *store.Node, args map[string]any) (string, any, error) {
	arg, given := args[r.AttrName]
	switch r.kind {
	case RuleText:
		if !given {
			return "", nil, fmt.Errorf("%w: %s", ErrMissingArgument, r.AttrName)
		}
		s, err := stringArg(arg, r.AttrName)
		return TypeText, s, err
	case RuleFixed:
		s, _ := r.Value.(string)
		if r.Expand {
			s = expandVariables(s, target, args)
		}
		return TypeText, s, nil
	case RuleRegmatch:
		if !given {
			return "", nil, fmt.Errorf("%w: %s", ErrMissingArgument, r.AttrName)
		}
		s, err := stringArg(arg, r.AttrName)
		if err != nil {
			return "", nil, err
		}
		re, err := regexp.Compile(`^(?:` + r.Regexp + `)$`)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadValue, err)
		}
		if !re.MatchString(s) {
			return "", nil, fmt.Errorf("%w: %s %q does not match %s", ErrBadValue, r.AttrName, s, r.Regexp)
		}
		return TypeText, s, nil
	case RuleBool:
		if !given {
			return TypeBool, r.Value, nil
		}
		b, err := boolArg(arg, r.AttrName)
		return TypeBool, b, err
	case RuleInt:
		if !given {
			return TypeInt, r.Value, nil
		}
		n, err := intArg(arg, r.AttrName)
		return TypeInt, n, err
	}
	return "", nil, fmt.Errorf("%w: %s sets no value", ErrBadValue, r.kind)
}

// expandVariables replaces ${name} with the argument called name, or the
// target attribute of that name
func expandVariables(s string, target *store.Node, args map[string]any) string {
	return os.Expand(s, func(name string) string {
		if v, ok := args[name]; ok {
			return fmt.Sprint(v)
		}
		if v, ok := target.Attribute(name); ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	})
}

// PasswordRulePayload adds a password below the target. The password
// itself is the argument named by Username.
type PasswordRulePayload struct {
	Username    string
	Description string
	KeyOID      string
}

func newPasswordRule(args ...any) (schema.Payload, error) {
	r := &PasswordRulePayload{}
	switch len(args) {
	case 0:
		return r, nil
	case 3:
		return r, r.Load(args, nil)
	default:
		return nil, errArgs(3, len(args))
	}
}

func (r *PasswordRulePayload) Fields() []any { return []any{r.Username, r.Description, r.KeyOID} }

func (r *PasswordRulePayload) Load(fields []any, _ schema.Resolver) error {
	var out PasswordRulePayload
	var err error
	if out.Username, err = stringArg(fields[0], "username"); err != nil {
		return err
	}
	if out.Description, err = stringArg(fields[1], "description"); err != nil {
		return err
	}
	if out.KeyOID, err = stringArg(fields[2], "password key oid"); err != nil {
		return err
	}
	*r = out
	return nil
}

func (r *PasswordRulePayload) CopyArgs() []any { return r.Fields() }

// SubdeviceRulePayload adds Count devices below the target and applies
// the device template TemplateOID, if set, to each of them. Each one
// gets a "sequence" argument counting up from Offset.
type SubdeviceRulePayload struct {
	Count       int64
	TemplateOID string
	Offset      int64
}

func newSubdeviceRule(args ...any) (schema.Payload, error) {
	r := &SubdeviceRulePayload{}
	switch len(args) {
	case 0:
		return r, nil
	case 3:
		return r, r.Load(args, nil)
	default:
		return nil, errArgs(3, len(args))
	}
}

func (r *SubdeviceRulePayload) Fields() []any { return []any{r.Count, r.TemplateOID, r.Offset} }

func (r *SubdeviceRulePayload) Load(fields []any, _ schema.Resolver) error {
	var out SubdeviceRulePayload
	var err error
	if out.Count, err = intArg(fields[0], "number of devices"); err != nil {
		return err
	}
	if out.TemplateOID, err = stringArg(fields[1], "device template oid"); err != nil {
		return err
	}
	if out.Offset, err = intArg(fields[2], "sequence offset"); err != nil {
		return err
	}
	*r = out
	return nil
}

func (r *SubdeviceRulePayload) Validate() error {
	if r.Count < 0 {
		return fmt.Errorf("%w: negative number of devices %d", ErrBadValue, r.Count)
	}
	return nil
}

func (r *SubdeviceRulePayload) CopyArgs() []any { return r.Fields() }

// FlushRulePayload removes the children, or the associations, of the
// target that match Include and Exclude (type-ids or names)
type FlushRulePayload struct {
	Include []string
	Exclude []string
}

func newFlushRule(args ...any) (schema.Payload, error) {
	r := &FlushRulePayload{}
	switch len(args) {
	case 0:
		return r, nil
	case 2:
		return r, r.Load(args, nil)
	default:
		return nil, errArgs(2, len(args))
	}
}

func (r *FlushRulePayload) Fields() []any {
	return []any{anyStrings(r.Include), anyStrings(r.Exclude)}
}

func (r *FlushRulePayload) Load(fields []any, _ schema.Resolver) error {
	include, err := stringsArg(fields[0], "include")
	if err != nil {
		return err
	}
	exclude, err := stringsArg(fields[1], "exclude")
	if err != nil {
		return err
	}
	r.Include, r.Exclude = include, exclude
	return nil
}

func (r *FlushRulePayload) CopyArgs() []any { return r.Fields() }

// Rules returns the rules of a template in child order
func Rules(ctx context.Context, tmpl *store.Node) ([]*store.Node, error) {
	if _, ok := tmpl.Payload().(*TemplatePayload); !ok {
		return nil, fmt.Errorf("%w: %s is not a template", ErrBadValue, tmpl.Describe())
	}
	return tmpl.ListChildren(ctx,
		store.Exclude(string(Attribute), string(VersionedAttribute)),
		store.Sorted(false),
	)
}

// CombinedRules returns the rules of the templates tmpl inherits, depth
// first and each template once, followed by its own
func CombinedRules(ctx context.Context, tmpl *store.Node) ([]*store.Node, error) {
	var rules []*store.Node
	seen := make(map[*store.Node]bool)

	var visit func(t *store.Node) error
	visit = func(t *store.Node) error {
		if seen[t] {
			return nil
		}
		seen[t] = true
		p, ok := t.Payload().(*TemplatePayload)
		if !ok {
			return fmt.Errorf("%w: %s is not a template", ErrBadValue, t.Describe())
		}
		for parent, err := range t.Store().GetOIDs(ctx, p.Inherited) {
			if err != nil {
				return err
			}
			if err := visit(parent); err != nil {
				return err
			}
		}
		own, err := Rules(ctx, t)
		if err != nil {
			return err
		}
		rules = append(rules, own...)
		return nil
	}

	if err := visit(tmpl); err != nil {
		return nil, err
	}
	return rules, nil
}

// SuggestTemplates returns the templates of type typ found below base
// and its ancestors, nearest first. Inheritance only templates are left
// out.
func SuggestTemplates(ctx context.Context, base *store.Node, typ schema.TypeID) ([]*store.Node, error) {
	var out []*store.Node
	for n := base; n != nil; n = n.Parent() {
		if !base.Store().Registry().IsValidChild(n.TypeID(), typ) {
			continue
		}
		templates, err := n.ListChildren(ctx, store.Include(string(typ)))
		if err != nil {
			return nil, err
		}
		for _, t := range templates {
			if !t.Payload().(*TemplatePayload).InheritanceOnly {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// ApplyOptions configures ApplyTemplate
type ApplyOptions struct {
	// Arguments holds rule input: attribute rules read the entry named
	// after their attribute, password rules the one named after their
	// username
	Arguments map[string]any
	// Overwrite replaces attributes the target already has
	Overwrite bool
	// Skip lists rule OIDs that are not applied
	Skip []string
}

// ApplyTemplate applies the combined rules of tmpl to target. Flush rules
// run first, the others in rule order. A device template applies to
// devices and a network template to networks.
func ApplyTemplate(ctx context.Context, tmpl, target *store.Node, opts ApplyOptions) error {
	return applyTemplate(ctx, tmpl, target, opts, make(map[*store.Node]bool))
}

func applyTemplate(ctx context.Context, tmpl, target *store.Node, opts ApplyOptions, active map[*store.Node]bool) error {
	p, ok := tmpl.Payload().(*TemplatePayload)
	if !ok {
		return fmt.Errorf("%w: %s is not a template", ErrBadValue, tmpl.Describe())
	}
	if p.InheritanceOnly {
		return fmt.Errorf("%w: %s is for inheritance only", ErrBadValue, tmpl.Describe())
	}
	if !appliesTo(tmpl.TypeID(), target.TypeID()) {
		return fmt.Errorf("%w: %s does not apply to %s", ErrBadValue, tmpl.TypeName(), target.TypeName())
	}
	if active[tmpl] {
		return fmt.Errorf("%w: %s applies itself through a subdevice rule", ErrBadValue, tmpl.Describe())
	}
	active[tmpl] = true
	defer delete(active, tmpl)

	rules, err := CombinedRules(ctx, tmpl)
	if err != nil {
		return err
	}
	if _, err := target.ListChildren(ctx, store.Include(string(Attribute), string(VersionedAttribute))); err != nil {
		return err
	}

	skip := make(map[string]bool, len(opts.Skip))
	for _, oid := range opts.Skip {
		skip[oid] = true
	}
	var flush, rest []*store.Node
	for _, r := range rules {
		switch {
		case skip[r.OID()]:
		case r.TypeID() == RuleFlushNodes || r.TypeID() == RuleFlushAssociations:
			flush = append(flush, r)
		default:
			rest = append(rest, r)
		}
	}
	for _, r := range append(flush, rest...) {
		if err := applyRule(ctx, r, target, opts, active); err != nil {
			return fmt.Errorf("apply %s: %w", r.Describe(), err)
		}
	}
	return nil
}

func appliesTo(tmpl, target schema.TypeID) bool {
	switch tmpl {
	case DeviceTemplate:
		return target == Device
	case NetworkTemplate:
		return target == IPv4Network || target == IPv6Network
	}
	return false
}

func applyRule(ctx context.Context, rule, target *store.Node, opts ApplyOptions, active map[*store.Node]bool) error {
	switch p := rule.Payload().(type) {
	case *FlushRulePayload:
		return applyFlush(ctx, rule.TypeID(), p, target)
	case *AttributeRulePayload:
		existing := target.AttributeNode(p.AttrName)
		if p.kind == RuleDeleteAttribute {
			if existing == nil {
				return nil
			}
			return existing.Delete(ctx)
		}
		if existing != nil && !opts.Overwrite {
			return nil
		}
		typ, value, err := p.value(target, opts.Arguments)
		if err != nil {
			return err
		}
		if existing != nil {
			return SetValue(ctx, existing, value)
		}
		if p.Versions > 1 {
			_, err = target.CommitChild(ctx, VersionedAttribute, p.AttrName, typ, value, p.Versions)
			return err
		}
		_, err = target.CommitChild(ctx, Attribute, p.AttrName, typ, value)
		return err
	case *PasswordRulePayload:
		return applyPassword(ctx, p, target, opts.Arguments)
	case *SubdeviceRulePayload:
		return applySubdevices(ctx, p, target, opts, active)
	}
	if rule.TypeID() == RuleAssignNetwork {
		_, err := AssignNetwork(ctx, target)
		return err
	}
	return fmt.Errorf("%w: %s is not a template rule", ErrBadValue, rule.TypeName())
}

func applyFlush(ctx context.Context, kind schema.TypeID, p *FlushRulePayload, target *store.Node) error {
	opts := []store.QueryOption{store.Include(p.Include...), store.Exclude(p.Exclude...)}
	if kind == RuleFlushNodes {
		children, err := target.ListChildren(ctx, opts...)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := c.Delete(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	linked, err := target.ListAssociations(ctx, opts...)
	if err != nil {
		return err
	}
	for _, l := range linked {
		if err := target.Disassociate(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func applyPassword(ctx context.Context, p *PasswordRulePayload, target *store.Node, args map[string]any) error {
	arg, ok := args[p.Username]
	if !ok {
		return fmt.Errorf("%w: password for %s", ErrMissingArgument, p.Username)
	}
	password, err := stringArg(arg, "password")
	if err != nil {
		return err
	}
	pw, err := target.CommitChild(ctx, Password, password, p.KeyOID)
	if err != nil {
		return err
	}
	attrs := [][2]string{{"username", p.Username}, {"description", p.Description}}
	for _, a := range attrs {
		if a[1] == "" {
			continue
		}
		if _, err := pw.CommitChild(ctx, Attribute, a[0], TypeText, a[1]); err != nil {
			return err
		}
	}
	return nil
}

func applySubdevices(ctx context.Context, p *SubdeviceRulePayload, target *store.Node, opts ApplyOptions, active map[*store.Node]bool) error {
	var tmpl *store.Node
	if p.TemplateOID != "" {
		for n, err := range target.Store().GetOIDs(ctx, []string{p.TemplateOID}) {
			if err != nil {
				return err
			}
			tmpl = n
		}
		if tmpl == nil {
			return fmt.Errorf("%w: device template %s not found", ErrBadValue, p.TemplateOID)
		}
	}
	for i := range p.Count {
		dev, err := target.CommitChild(ctx, Device)
		if err != nil {
			return err
		}
		if tmpl == nil {
			continue
		}
		sub := opts
		sub.Arguments = maps.Clone(opts.Arguments)
		if sub.Arguments == nil {
			sub.Arguments = make(map[string]any)
		}
		sub.Arguments["sequence"] = p.Offset + i
		if err := applyTemplate(ctx, tmpl, dev, sub, active); err != nil {
			return err
		}
	}
	return nil
}

// AssignNetwork links device to the first free host address of the
// autoassign range configured nearest to it, and returns that host
// network
func AssignNetwork(ctx context.Context, device *store.Node) (*store.Node, error) {
	cfgNode, err := NearestConfig(ctx, device, ConfigNetworkAutoassign)
	if err != nil {
		return nil, err
	}
	if cfgNode == nil {
		return nil, fmt.Errorf("%w: no network autoassign config above %s", ErrNoFreeAddress, device.Describe())
	}
	cfg := cfgNode.Payload().(*AutoassignPayload)

	var tree *store.Node
	for n, err := range device.Store().GetOIDs(ctx, []string{cfg.NetworkTreeOID}) {
		if err != nil {
			return nil, err
		}
		tree = n
	}
	if tree == nil || tree.TypeID() != NetworkTree {
		return nil, fmt.Errorf("%w: autoassign network tree %s not found", ErrBadValue, cfg.NetworkTreeOID)
	}

	for addr := cfg.Start; addr.IsValid() && !cfg.End.Less(addr); addr = addr.Next() {
		host := netip.PrefixFrom(addr, addr.BitLen())
		existing, err := FindNetwork(ctx, tree, host, false)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		network, err := FindNetwork(ctx, tree, host, true)
		if err != nil {
			return nil, err
		}
		return network, device.Associate(ctx, network)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFreeAddress, cfg.AddressString())
}
