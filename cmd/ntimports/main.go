package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Binject/debug/pe"
	"github.com/charmbracelet/lipgloss"
	"github.com/wnxd/microdbg-windows/kernel"
	"go.uber.org/zap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	emulatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	passthruStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type status int

const (
	statusEmulated status = iota
	statusPassthru
	statusMissing
)

func (s status) String() string {
	switch s {
	case statusEmulated:
		return emulatedStyle.Render("emulated")
	case statusPassthru:
		return passthruStyle.Render("passthru")
	}
	return missingStyle.Render("missing")
}

type entry struct {
	image  string
	name   string
	status status
}

func main() {
	var (
		config  = flag.String("c", "", "Kernel options (yaml)")
		all     = flag.Bool("a", false, "Also list imports from non-kernel images")
		verbose = flag.Bool("v", false, "Log kernel construction")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: ntimports [-c options.yaml] [-a] [-v] <driver.sys>")
		os.Exit(1)
	}
	if *verbose {
		if logger, err := zap.NewDevelopment(); err == nil {
			kernel.SetLogger(logger)
			defer logger.Sync()
		}
	}
	if err := run(flag.Arg(0), *config, *all); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, config string, all bool) error {
	opts := kernel.DefaultOptions()
	if config != "" {
		var err error
		if opts, err = kernel.LoadOptions(config); err != nil {
			return fmt.Errorf("load options: %w", err)
		}
	}

	f, err := pe.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	symbols, err := f.ImportedSymbols()
	if err != nil {
		return fmt.Errorf("read imports: %w", err)
	}

	nt := kernel.NewNtoskrnl(nil, nil, opts)
	defer nt.Close()

	var entries []entry
	counts := make(map[status]int)
	for _, sym := range symbols {
		name, image, ok := strings.Cut(sym, ":")
		if !ok {
			continue
		}
		kernelImage := slices.ContainsFunc(opts.KernelImages, func(s string) bool {
			return strings.EqualFold(s, image)
		})
		if !kernelImage && !all {
			continue
		}
		e := entry{image: strings.ToLower(image), name: name, status: statusMissing}
		if r := nt.Get(name); r != nil {
			if r.Passthru() {
				e.status = statusPassthru
			} else {
				e.status = statusEmulated
			}
		}
		counts[e.status]++
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := strings.Compare(a.image, b.image); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	fmt.Println(titleStyle.Render(path))
	width := 0
	for _, e := range entries {
		width = max(width, len(e.image)+len(e.name)+1)
	}
	for _, e := range entries {
		fmt.Printf("  %-*s  %s\n", width, e.image+"!"+e.name, e.status)
	}
	fmt.Println(helpStyle.Render(fmt.Sprintf("%d emulated, %d passthru, %d missing",
		counts[statusEmulated], counts[statusPassthru], counts[statusMissing])))
	return nil
}
