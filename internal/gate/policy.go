package gate

// BashProfile selects how aggressively the bash tool restricts commands.
type BashProfile string

const (
	BashProfilePermissive BashProfile = "permissive"
	BashProfileBalanced   BashProfile = "balanced"
	BashProfileStrict     BashProfile = "strict"
)

// SandboxMode selects whether commands run inside an OS sandbox.
type SandboxMode string

const (
	SandboxOff   SandboxMode = "off"
	SandboxAuto  SandboxMode = "auto"
	SandboxForce SandboxMode = "force"
)

// SandboxPolicyMode controls whether a sandbox failure is fatal.
type SandboxPolicyMode string

const (
	SandboxBestEffort SandboxPolicyMode = "best_effort"
	SandboxRequired   SandboxPolicyMode = "required"
)

// Policy is the full set of knobs the gate enforces, loaded from
// config.yaml's policy section and overridable per channel.
type Policy struct {
	AllowedRoots []string `yaml:"allowed_roots"`

	MaxFileReadBytes  int64 `yaml:"max_file_read_bytes"`
	MaxFileWriteBytes int64 `yaml:"max_file_write_bytes"`

	MaxCommandLength    int      `yaml:"max_command_length"`
	AllowCommandNewlines bool    `yaml:"allow_command_newlines"`
	CommandAllowlist    []string `yaml:"command_allowlist"`
	BashTimeoutMS       int64    `yaml:"bash_timeout_ms"`
	BashProfile         BashProfile `yaml:"bash_profile"`

	MaxToolOutputBytes int64 `yaml:"max_tool_output_bytes"`

	OSSandboxMode          SandboxMode       `yaml:"os_sandbox_mode"`
	SandboxPolicyMode      SandboxPolicyMode `yaml:"sandbox_policy_mode"`
	SandboxCommandTemplate []string          `yaml:"sandbox_command_template"`
	EnforceRegularFiles  bool              `yaml:"enforce_regular_files"`

	HTTPAllowedHosts  []string `yaml:"http_allowed_hosts"`
	HTTPTimeoutMS     int64    `yaml:"http_timeout_ms"`
	HTTPMaxBodyBytes  int64    `yaml:"http_max_body_bytes"`

	RBACPrincipal  string `yaml:"rbac_principal"`
	RBACPolicyPath string `yaml:"rbac_policy_path"`
}

// DefaultPolicy returns the policy a gate uses when config.yaml omits the
// policy section entirely: an empty allowed-roots list (all paths
// allowed), generous but bounded limits, and the balanced bash profile.
func DefaultPolicy() Policy {
	return Policy{
		MaxFileReadBytes:     10 * 1024 * 1024,
		MaxFileWriteBytes:    10 * 1024 * 1024,
		MaxCommandLength:     4000,
		AllowCommandNewlines: false,
		BashTimeoutMS:        30000,
		BashProfile:          BashProfileBalanced,
		MaxToolOutputBytes:   256 * 1024,
		OSSandboxMode:        SandboxAuto,
		SandboxPolicyMode:    SandboxBestEffort,
		EnforceRegularFiles:  true,
		HTTPTimeoutMS:        15000,
		HTTPMaxBodyBytes:     5 * 1024 * 1024,
	}
}
