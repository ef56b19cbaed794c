package kernel

import (
	"os"

	"gopkg.in/yaml.v2"
)

const (
	ThreadIDSentinel   = "sentinel"
	ThreadIDSequential = "sequential"
)

// Options is the yaml configuration of the emulated kernel. Zero fields take the defaults.
type Options struct {
	OsMajorVersion     uint32   `yaml:"os_major_version"`
	OsMinorVersion     uint32   `yaml:"os_minor_version"`
	OsBuildNumber      uint32   `yaml:"os_build_number"`
	ProcessID          uint32   `yaml:"process_id"`
	ImageFileName      string   `yaml:"image_file_name"`
	KernelImages       []string `yaml:"kernel_images"`
	HookOnlyRoutines   []string `yaml:"hook_only_routines"`
	ThreadIDPolicy     string   `yaml:"thread_id_policy"`
	HostSnapshot       bool     `yaml:"host_snapshot"`
	ProcessorsCount    uint8    `yaml:"processors_count"`
	PhysicalPages      uint32   `yaml:"physical_pages"`
	SystemTimeOverride int64    `yaml:"system_time"`
	// Verifier decides which faults of a reentrant run are benign.
	Verifier FaultVerifier `yaml:"-"`
}

func DefaultOptions() *Options {
	opts := new(Options)
	opts.fill()
	return opts
}

func (opts *Options) fill() {
	if opts.OsMajorVersion == 0 {
		opts.OsMajorVersion = 6
		opts.OsMinorVersion = 1
	}
	if opts.OsBuildNumber == 0 {
		opts.OsBuildNumber = 0xF0001DB1
	}
	if opts.ProcessID == 0 {
		opts.ProcessID = 0x1000
	}
	if opts.ImageFileName == "" {
		opts.ImageFileName = "C:\\test.exe"
	}
	if len(opts.KernelImages) == 0 {
		opts.KernelImages = []string{"ntoskrnl.exe", "ntkrnlpa.exe", "hal.dll"}
	}
	if opts.HookOnlyRoutines == nil {
		opts.HookOnlyRoutines = []string{"IoCreateDeviceSecure"}
	}
	if opts.ThreadIDPolicy == "" {
		opts.ThreadIDPolicy = ThreadIDSentinel
	}
	if opts.ProcessorsCount == 0 {
		opts.ProcessorsCount = 1
	}
	if opts.PhysicalPages == 0 {
		opts.PhysicalPages = 0x40000
	}
	if opts.Verifier == nil {
		opts.Verifier = DefaultVerifier
	}
}

func ParseOptions(data []byte) (*Options, error) {
	opts := new(Options)
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, err
	}
	opts.fill()
	return opts, nil
}

func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseOptions(data)
}
