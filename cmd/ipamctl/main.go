package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ipamclient/internal/codec"
	"ipamclient/internal/config"
	"ipamclient/internal/discovery"
	"ipamclient/internal/kinds"
	"ipamclient/internal/repository/sqlite"
	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

const usage = `usage: ipamctl [-config path] [-db path] <command> [flags]

commands:
  tree      print the tree below a node
  export    write a snapshot of a subtree
  import    load a snapshot into a session and print it
  search    search the repository
  discover  scan networks with nmap and record the hosts
  config    print or save the configuration
`

func main() {
	configPath := flag.String("config", "", "config file (default: search the usual locations)")
	dbPath := flag.String("db", "", "SQLite database path (overrides the config)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, loadedFrom, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Repository.Path = *dbPath
	}
	logger := cfg.Logger()
	log.SetFlags(cfg.Log.Flags)
	log.SetPrefix(cfg.Log.Prefix)
	if loadedFrom != "" {
		logger.Printf("Config loaded: %s", loadedFrom)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	if cmd == "config" {
		err = runConfig(cfg, rest)
	} else {
		err = withStore(cfg, logger, func(s *store.Store) error {
			switch cmd {
			case "tree":
				return runTree(ctx, s, rest)
			case "export":
				return runExport(ctx, s, rest)
			case "import":
				return runImport(s, rest)
			case "search":
				return runSearch(ctx, s, rest)
			case "discover":
				return runDiscover(ctx, s, cfg, logger, rest)
			default:
				flag.Usage()
				return fmt.Errorf("unknown command %q", cmd)
			}
		})
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// withStore opens the sandbox repository and runs fn against a fresh
// session on it
func withStore(cfg *config.Config, logger *log.Logger, fn func(*store.Store) error) error {
	reg := kinds.NewRegistry()
	repo, err := sqlite.New(cfg.Repository.Path, reg,
		sqlite.WithPageSize(cfg.Repository.PageSize),
		sqlite.WithAttributeTypes(kinds.AttributeTypes...),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Repository.RootOID != "" {
		opts = append(opts, store.WithRootOID(cfg.Repository.RootOID))
	}
	s, err := store.New(repo, reg, opts...)
	if err != nil {
		return err
	}
	return fn(s)
}

// startNode returns the node called oid, fetching it when needed, or the
// root for an empty oid
func startNode(ctx context.Context, s *store.Store, oid string) (*store.Node, error) {
	if oid == "" {
		return s.Root(), nil
	}
	var found *store.Node
	for n, err := range s.GetOIDs(ctx, []string{oid}) {
		if err != nil {
			return nil, err
		}
		found = n
	}
	if found == nil {
		return nil, fmt.Errorf("no node %s", oid)
	}
	return found, nil
}

func runTree(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	oid := fs.String("oid", "", "start node (default: root)")
	depth := fs.Int("depth", 3, "levels to show, -1 for all")
	attrs := fs.Bool("attrs", false, "show attribute values")
	fs.Parse(args)

	start, err := startNode(ctx, s, *oid)
	if err != nil {
		return err
	}
	// one more level brings in the attributes of the deepest nodes
	if err := start.Fetch(ctx, store.DefaultFetchOptions(fetchDepth(*depth))); err != nil {
		return err
	}
	printTree(os.Stdout, start, *depth, *attrs)
	return nil
}

func fetchDepth(depth int) int {
	if depth < 0 {
		return depth
	}
	return depth + 1
}

func printTree(w io.Writer, start *store.Node, depth int, attrs bool) {
	for level, n := range start.TraverseDepth(
		store.MaxDepth(depth),
		store.Exclude(string(kinds.Attribute), string(kinds.VersionedAttribute)),
	) {
		line := strings.Repeat("  ", level) + n.Describe()
		if a, ok := n.Payload().(schema.Addressed); ok {
			line += " " + a.AddressString()
		}
		fmt.Fprintln(w, line)
		if !attrs {
			continue
		}
		for _, a := range n.Attributes() {
			fmt.Fprintf(w, "%s  %s = %v\n", strings.Repeat("  ", level), a.AttributeName(), a.AttributeValue())
		}
	}
}

func runExport(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	oid := fs.String("oid", "", "start node (default: root)")
	depth := fs.Int("depth", -1, "levels to export, -1 for all")
	format := fs.String("format", "yaml", "yaml or json")
	out := fs.String("o", "", "output file (default: stdout)")
	fs.Parse(args)

	c, err := codec.ForFormat(*format)
	if err != nil {
		return err
	}
	start, err := startNode(ctx, s, *oid)
	if err != nil {
		return err
	}
	if err := start.Fetch(ctx, store.DefaultFetchOptions(*depth)); err != nil {
		return err
	}
	records := codec.Snapshot(start, *depth)

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := c.Export(records, w); err != nil {
		return err
	}
	log.Printf("Exported %d records", len(records))
	return nil
}

func runImport(s *store.Store, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	format := fs.String("format", "", "yaml or json (default: from the file extension)")
	force := fs.Bool("force", false, "reload records that are already mirrored")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one snapshot file")
	}
	path := fs.Arg(0)

	if *format == "" {
		*format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	c, err := codec.ForFormat(*format)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := c.Parse(f)
	if err != nil {
		return err
	}
	loaded := codec.Import(s, records, *force)
	log.Printf("Loaded %d of %d records", loaded, len(records))
	printTree(os.Stdout, s.Root(), -1, false)
	return nil
}

func runSearch(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	oid := fs.String("oid", "", "start node (default: root)")
	types := fs.String("type", "", "comma separated type ids or names to include")
	attr := fs.String("attr", "", "comma separated attribute names to match on")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one pattern")
	}

	start, err := startNode(ctx, s, *oid)
	if err != nil {
		return err
	}
	var opts []store.QueryOption
	if *types != "" {
		opts = append(opts, store.Include(strings.Split(*types, ",")...))
	}
	if *attr != "" {
		opts = append(opts, store.AttrLimit(strings.Split(*attr, ",")...))
	}
	nodes, err := start.Search(ctx, fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		fmt.Println(n.Describe())
	}
	return nil
}

func runDiscover(ctx context.Context, s *store.Store, cfg *config.Config, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	targets := fs.String("targets", strings.Join(cfg.Discovery.Targets, ","), "comma separated CIDRs or addresses")
	view := fs.String("view", cfg.Discovery.View, "view to record hosts in, created when missing")
	ports := fs.String("ports", cfg.Discovery.Ports, "ports to scan")
	hostKeys := fs.Bool("hostkeys", cfg.Discovery.HostKeys, "record SSH host key fingerprints")
	fs.Parse(args)

	v, err := kinds.ViewByName(ctx, s.Root(), *view)
	if err != nil {
		return err
	}
	if v == nil {
		if v, err = kinds.AddView(ctx, s.Root(), *view); err != nil {
			return err
		}
		logger.Printf("Created view %s", *view)
	}

	opts := []discovery.Option{
		discovery.WithTimeout(cfg.Discovery.Timeout.Duration()),
		discovery.WithConcurrency(cfg.Discovery.Concurrency),
		discovery.WithServiceDetection(cfg.Discovery.ServiceDetection),
		discovery.WithSkipHostDiscovery(cfg.Discovery.SkipHostDiscovery),
		discovery.WithLogger(logger),
	}
	if *ports != "" {
		opts = append(opts, discovery.WithPorts(*ports))
	}
	if *hostKeys {
		opts = append(opts, discovery.WithHostKeys(discovery.NewHostKeyProbe(0)))
	}
	hosts, err := discovery.NewScanner(opts...).Scan(ctx, strings.Split(*targets, ","))
	if err != nil {
		return err
	}

	res, err := discovery.NewImporter(v, cfg.Discovery.DeviceTree, cfg.Discovery.Protocol, logger).Apply(ctx, hosts)
	if err != nil {
		return err
	}
	fmt.Printf("%d hosts: %d added, %d updated, %d unchanged, %d skipped\n",
		len(hosts), res.Created, res.Updated, res.Unchanged, res.Skipped)
	return nil
}

func runConfig(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	save := fs.String("save", "", "write the effective configuration to this path")
	fs.Parse(args)

	fmt.Println(cfg.Summary())
	if *save == "" {
		return nil
	}
	if err := cfg.Save(*save); err != nil {
		return err
	}
	log.Printf("Config saved: %s", *save)
	return nil
}
