package kinds

import (
	"ipamclient/internal/schema"
)

// Type-ids of the IPAM node kinds
const (
	ViewTree           schema.TypeID = "VT"
	View               schema.TypeID = "V"
	Attribute          schema.TypeID = "CA"
	VersionedAttribute schema.TypeID = "VA"
	Counter            schema.TypeID = "CNT"
	CounterLoop        schema.TypeID = "CNTLOOP"
	NetworkTree        schema.TypeID = "NT"
	IPv4Network        schema.TypeID = "IP4N"
	IPv4NetworkRange   schema.TypeID = "IP4NR"
	IPv6Network        schema.TypeID = "IP6N"
	IPv6NetworkRange   schema.TypeID = "IP6NR"
	DeviceTree         schema.TypeID = "DT"
	DeviceCategory     schema.TypeID = "DC"
	Device             schema.TypeID = "D"
	ContainerTree      schema.TypeID = "CT"
	Container          schema.TypeID = "C"
	PasswordTree       schema.TypeID = "PT"
	PasswordCategory   schema.TypeID = "PC"
	Password           schema.TypeID = "P"
	PasswordKey        schema.TypeID = "PK"
	PublicKey          schema.TypeID = "PUK"

	DeviceTemplate        schema.TypeID = "DTMPL"
	NetworkTemplate       schema.TypeID = "NTMPL"
	RuleText              schema.TypeID = "TMPLRULETEXT"
	RuleFixed             schema.TypeID = "TMPLRULEFIXED"
	RuleRegmatch          schema.TypeID = "TMPLRULEREGMATCH"
	RuleBool              schema.TypeID = "TMPLRULEBOOL"
	RuleInt               schema.TypeID = "TMPLRULEINT"
	RuleDeleteAttribute   schema.TypeID = "TMPLRULEDELATTR"
	RulePassword          schema.TypeID = "TMPLRULEPASSWORD"
	RuleAssignNetwork     schema.TypeID = "TMPLRULEASSIGNNET"
	RuleSubdevice         schema.TypeID = "TMPLRULESUBDEV"
	RuleFlushNodes        schema.TypeID = "TMPLRULEFLUSHNODES"
	RuleFlushAssociations schema.TypeID = "TMPLRULEFLUSHASSOC"

	DeviceConfig            schema.TypeID = "DCON"
	DeviceConfigTemplate    schema.TypeID = "DCTMPL"
	ConfigValue             schema.TypeID = "CFGVALUE"
	ConfigNetworkAutoassign schema.TypeID = "CFGNETAUTO"
	OptionTree              schema.TypeID = "OT"
	OptionCategory          schema.TypeID = "OC"
	OptionValue             schema.TypeID = "OV"
)

// Sort classes shared by more than one kind
const (
	SortAttribute = "attribute"
	SortIPv4      = "ipv4 network"
	SortIPv6      = "ipv6 network"
	SortIPv4Range = "ipv4 network range"
	SortIPv6Range = "ipv6 network range"
	SortPublicKey = "public key"
)

// AttributeTypes lists the kinds whose first field is an attribute name.
// Repositories that search attributes by name need it.
var AttributeTypes = []schema.TypeID{Attribute, VersionedAttribute}

var attrs = []schema.TypeID{Attribute, VersionedAttribute}

func with(ids ...schema.TypeID) []schema.TypeID {
	return append(append([]schema.TypeID{}, attrs...), ids...)
}

// NewRegistry registers every IPAM kind, declares containment and sets
// the view tree as root
func NewRegistry() *schema.Registry {
	reg := schema.NewRegistry()

	reg.MustRegister(schema.Descriptor{ID: ViewTree, Name: "view tree", Arity: 1, New: newViewTree}).
		AllowChild(with(View, ConfigValue)...)
	reg.MustRegister(schema.Descriptor{ID: View, Name: "view", New: structural}).
		AllowChild(with(NetworkTree, DeviceTree, PasswordTree, PasswordKey, ContainerTree, Counter, CounterLoop, PublicKey,
			OptionTree, ConfigValue, ConfigNetworkAutoassign)...)

	reg.MustRegister(schema.Descriptor{ID: Attribute, Name: "attribute", Arity: 3, SortClass: SortAttribute, New: newAttribute}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: VersionedAttribute, Name: "versioned attribute", Arity: 4, SortClass: SortAttribute, New: newVersionedAttribute}).
		AllowChild(attrs...)

	reg.MustRegister(schema.Descriptor{ID: Counter, Name: "counter", Arity: 1, New: newCounter}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: CounterLoop, Name: "counter loop", Arity: 2, New: newCounterLoop}).
		AllowChild(attrs...)

	reg.MustRegister(schema.Descriptor{ID: NetworkTree, Name: "network tree", Arity: 1, New: newNetworkTree}).
		AllowChild(with(IPv4Network, IPv4NetworkRange, IPv6Network, IPv6NetworkRange, NetworkTemplate, ConfigValue)...)
	reg.MustRegister(schema.Descriptor{ID: IPv4Network, Name: "ipv4 network", Arity: 1, SortClass: SortIPv4, New: newNetwork(4)}).
		AllowChild(with(IPv4Network, IPv4NetworkRange, NetworkTemplate, ConfigValue)...)
	reg.MustRegister(schema.Descriptor{ID: IPv4NetworkRange, Name: "ipv4 network range", Arity: 1, SortClass: SortIPv4Range, New: newRange(4)}).
		AllowChild(with(ConfigValue)...)
	reg.MustRegister(schema.Descriptor{ID: IPv6Network, Name: "ipv6 network", Arity: 1, SortClass: SortIPv6, New: newNetwork(6)}).
		AllowChild(with(IPv6Network, IPv6NetworkRange, NetworkTemplate, ConfigValue)...)
	reg.MustRegister(schema.Descriptor{ID: IPv6NetworkRange, Name: "ipv6 network range", Arity: 1, SortClass: SortIPv6Range, New: newRange(6)}).
		AllowChild(with(ConfigValue)...)

	reg.MustRegister(schema.Descriptor{ID: DeviceTree, Name: "device tree", New: structural}).
		AllowChild(with(Device, DeviceCategory, DeviceTemplate, ConfigValue, ConfigNetworkAutoassign)...)
	reg.MustRegister(schema.Descriptor{ID: DeviceCategory, Name: "device category", New: structural}).
		AllowChild(with(Device, DeviceCategory, DeviceTemplate, ConfigValue, ConfigNetworkAutoassign)...)
	reg.MustRegister(schema.Descriptor{ID: Device, Name: "device", New: structural}).
		AllowChild(with(Device, Password, DeviceConfig, DeviceConfigTemplate, ConfigValue, ConfigNetworkAutoassign)...)

	reg.MustRegister(schema.Descriptor{ID: ContainerTree, Name: "container tree", New: structural}).
		AllowChild(with(Container)...)
	reg.MustRegister(schema.Descriptor{ID: Container, Name: "container", New: structural}).
		AllowChild(with(Container)...)

	reg.MustRegister(schema.Descriptor{ID: PasswordTree, Name: "password tree", New: structural}).
		AllowChild(with(PasswordCategory, Password, PasswordKey)...)
	reg.MustRegister(schema.Descriptor{ID: PasswordCategory, Name: "password category", New: structural}).
		AllowChild(with(PasswordCategory, Password)...)
	reg.MustRegister(schema.Descriptor{ID: Password, Name: "password", Arity: 2, New: newPassword}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: PasswordKey, Name: "password key", New: newPasswordKey}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: PublicKey, Name: "public key", Arity: 1, SortClass: SortPublicKey, New: newPublicKey}).
		AllowChild(attrs...)

	reg.MustRegister(schema.Descriptor{ID: DeviceTemplate, Name: "device template", Arity: 2, New: newTemplate}).
		AllowChild(with(deviceRules...)...)
	reg.MustRegister(schema.Descriptor{ID: NetworkTemplate, Name: "network template", Arity: 2, New: newTemplate}).
		AllowChild(with(networkRules...)...)
	for _, r := range []struct {
		id   schema.TypeID
		name string
		ctor schema.Constructor
	}{
		{RuleText, "template rule text", newAttributeRule(RuleText)},
		{RuleFixed, "template rule fixed", newAttributeRule(RuleFixed)},
		{RuleRegmatch, "template rule regmatch", newAttributeRule(RuleRegmatch)},
		{RuleBool, "template rule bool", newAttributeRule(RuleBool)},
		{RuleInt, "template rule int", newAttributeRule(RuleInt)},
		{RuleDeleteAttribute, "template rule delete attribute", newAttributeRule(RuleDeleteAttribute)},
		{RulePassword, "template rule password", newPasswordRule},
		{RuleAssignNetwork, "template rule assign network", structural},
		{RuleSubdevice, "template rule subdevice", newSubdeviceRule},
		{RuleFlushNodes, "template rule flush nodes", newFlushRule},
		{RuleFlushAssociations, "template rule flush associations", newFlushRule},
	} {
		p, err := r.ctor()
		if err != nil {
			panic(err)
		}
		reg.MustRegister(schema.Descriptor{ID: r.id, Name: r.name, Arity: len(p.Fields()), New: r.ctor}).
			AllowChild(attrs...)
	}

	reg.MustRegister(schema.Descriptor{ID: DeviceConfig, Name: "device config", Arity: 2, New: newDeviceConfig}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: DeviceConfigTemplate, Name: "device config template", New: structural}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: ConfigValue, Name: "config value", Arity: 2, New: newConfigValue}).
		AllowChild(attrs...)
	reg.MustRegister(schema.Descriptor{ID: ConfigNetworkAutoassign, Name: "config network autoassign", Arity: 3, New: newAutoassign}).
		AllowChild(attrs...)

	reg.MustRegister(schema.Descriptor{ID: OptionTree, Name: "option tree", New: structural}).
		AllowChild(with(OptionCategory)...)
	reg.MustRegister(schema.Descriptor{ID: OptionCategory, Name: "option category", New: structural}).
		AllowChild(with(OptionValue)...)
	reg.MustRegister(schema.Descriptor{ID: OptionValue, Name: "option value", Arity: 1, New: newOptionValue}).
		AllowChild(with(OptionValue)...)

	if err := reg.SetRoot(ViewTree); err != nil {
		panic(err)
	}
	return reg
}

// Structural is the payload of kinds without positional data. They are
// only containers for other nodes and attributes.
type Structural struct{}

func structural(args ...any) (schema.Payload, error) {
	if len(args) > 0 {
		return nil, errArgs(0, len(args))
	}
	return &Structural{}, nil
}

func (s *Structural) Fields() []any                         { return []any{} }
func (s *Structural) Load(_ []any, _ schema.Resolver) error { return nil }
func (s *Structural) CopyArgs() []any                       { return nil }

// ViewTreePayload is the root payload. It records the OID of the active
// user manager, which may be empty.
type ViewTreePayload struct {
	UserManagerOID string
}

func newViewTree(args ...any) (schema.Payload, error) {
	vt := &ViewTreePayload{}
	if len(args) > 0 {
		oid, err := stringArg(args[0], "user manager oid")
		if err != nil {
			return nil, err
		}
		vt.UserManagerOID = oid
	}
	return vt, nil
}

func (v *ViewTreePayload) Fields() []any { return []any{v.UserManagerOID} }

func (v *ViewTreePayload) Load(fields []any, _ schema.Resolver) error {
	oid, err := stringArg(fields[0], "user manager oid")
	if err != nil {
		return err
	}
	v.UserManagerOID = oid
	return nil
}
