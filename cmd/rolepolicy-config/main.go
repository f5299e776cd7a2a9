package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/rolepolicy/stores"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "check":
		handleCheck()
	case "commission":
		handleCommission()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rolepolicy-config - Configuration tool for rolepolicy")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rolepolicy-config convert <input> <output>              - Convert between formats")
	fmt.Println("  rolepolicy-config validate <file>                       - Validate configuration")
	fmt.Println("  rolepolicy-config stats <file>                          - Show configuration statistics")
	fmt.Println("  rolepolicy-config apply <file>                          - Seed the configured storage")
	fmt.Println("  rolepolicy-config check <file> <principal> <capability> - Resolve one capability")
	fmt.Println("  rolepolicy-config commission <file> <principal> <price> - Price a listing")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
	fmt.Println("ROLEPOLICY_* environment variables override file values.")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rolepolicy-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rolepolicy-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(rolepolicy.DefaultRegistry()); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Offices: %d\n", len(cfg.Offices))
	fmt.Printf("  Principals: %d\n", len(cfg.Principals))
	fmt.Printf("  Bookings: %d\n", len(cfg.Bookings))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rolepolicy-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Printf("Capability registry: v%d (%d entries)\n", rolepolicy.RegistryVersion, len(rolepolicy.DefaultRegistry().Capabilities()))
	fmt.Println()

	roles := map[rolepolicy.RoleKind]int{}
	hosts := map[rolepolicy.HostClassification]int{}
	broken := 0
	for _, rec := range cfg.Principals {
		p, err := rolepolicy.PrincipalFromRecord(rec)
		if err != nil {
			broken++
			continue
		}
		roles[p.PrimaryRole()]++
		hosts[p.HostClassification()]++
	}
	fmt.Println("Principals:")
	for _, k := range []rolepolicy.RoleKind{rolepolicy.RoleOrdinary, rolepolicy.RoleAdmin, rolepolicy.RoleOfficeManager, rolepolicy.RoleMarketingUser} {
		fmt.Printf("  %-16s %d\n", k+":", roles[k])
	}
	if broken > 0 {
		fmt.Printf("  %-16s %d\n", "invalid:", broken)
	}
	fmt.Println()

	fmt.Println("Hosts:")
	fmt.Printf("  Freelance:     %d\n", hosts[rolepolicy.HostFreelance])
	fmt.Printf("  Office linked: %d\n", hosts[rolepolicy.HostOfficeLinked])
	fmt.Println()

	if len(cfg.Offices) > 0 {
		fmt.Println("Offices:")
		for _, o := range cfg.Offices {
			members := 0
			for _, rec := range cfg.Principals {
				if rec.OfficeAssociationID == o.ID {
					members++
				}
			}
			fmt.Printf("  %s (%s): %d associated\n", o.ID, o.City, members)
		}
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Permission cache TTL:  %dms\n", cfg.Engine.PermissionCacheTTL)
	fmt.Printf("  Operation key TTL:     %dms\n", cfg.Engine.OperationKeyTTL)
	fmt.Printf("  Roster retry attempts: %d\n", cfg.Engine.RosterRetryAttempts)
	fmt.Printf("  Notify workers:        %d\n", cfg.Engine.NotifyWorkers)
	fmt.Printf("  Storage driver:        %s\n", cfg.Storage.Driver)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rolepolicy-config apply <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, backend, err := openService(ctx, cfg)
	if err != nil {
		fmt.Printf("Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()
	defer svc.Close()

	if err := svc.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Offices loaded: %d\n", len(cfg.Offices))
	fmt.Printf("  Principals loaded: %d\n", len(cfg.Principals))
	fmt.Printf("  Bookings loaded: %d\n", len(cfg.Bookings))
}

func handleCheck() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: rolepolicy-config check <file> <principal> <capability>")
		os.Exit(1)
	}

	svc, closeFn := seededService(os.Args[2])
	defer closeFn()

	ctx := context.Background()
	principalID, capability := os.Args[3], rolepolicy.CapabilityID(os.Args[4])
	if !rolepolicy.DefaultRegistry().Exists(capability) {
		fmt.Printf("Unknown capability %q, denied\n", capability)
		os.Exit(2)
	}
	ok, err := svc.Authorize(ctx, principalID, capability)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Printf("%s: %s denied\n", principalID, capability)
		os.Exit(2)
	}
	fmt.Printf("%s: %s allowed\n", principalID, capability)
}

func handleCommission() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: rolepolicy-config commission <file> <principal> <price>")
		os.Exit(1)
	}

	price, err := decimal.NewFromString(os.Args[4])
	if err != nil {
		fmt.Printf("Invalid price %q: %v\n", os.Args[4], err)
		os.Exit(1)
	}

	svc, closeFn := seededService(os.Args[2])
	defer closeFn()

	res, class, err := svc.Commission(context.Background(), os.Args[3], price)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Actor class: %s\n", class)
	for _, li := range res.LineItems {
		fmt.Printf("  %-18s %10s\n", li.Label, li.Amount.StringFixed(2))
	}
	fmt.Printf("  %-18s %10s\n", "Payer total", res.PayerTotal.StringFixed(2))
}

// seededService loads filename into in-memory storage so read-only commands
// never touch the configured backend.
func seededService(filename string) (*rolepolicy.Service, func()) {
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Storage = rolepolicy.StorageConfig{Driver: "memory"}
	ctx := context.Background()
	svc, backend, err := openService(ctx, cfg)
	if err != nil {
		fmt.Printf("Error opening storage: %v\n", err)
		os.Exit(1)
	}
	if err := svc.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}
	return svc, func() {
		svc.Close()
		_ = backend.Close()
	}
}

func openService(ctx context.Context, cfg *rolepolicy.Config) (*rolepolicy.Service, *stores.Backend, error) {
	backend, err := stores.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	policy, err := cfg.Commission.Policy()
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	svc, err := rolepolicy.NewService(backend.Principals, backend.Offices, backend.Audit,
		rolepolicy.WithEngineConfig(cfg.Engine),
		rolepolicy.WithCommissionPolicy(policy),
		rolepolicy.WithBookingDirectory(backend.Bookings),
	)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return svc, backend, nil
}

func loadConfig(filename string) (*rolepolicy.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := rolepolicy.NewConfigLoader()
	var cfg *rolepolicy.Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		cfg, err = loader.LoadYAML(data)
	case ".json":
		cfg, err = loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := rolepolicy.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func saveConfig(cfg *rolepolicy.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
