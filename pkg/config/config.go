package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "COHORTSYNC"

type AutoCreateMode string

const (
	AutoCreateNone   AutoCreateMode = "none"
	AutoCreateAll    AutoCreateMode = "all"
	AutoCreateGroups AutoCreateMode = "groups"
	AutoCreateList   AutoCreateMode = "list"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging" json:"logging" envconfig:"LOGGING"`
	Directory DirectoryConfig `yaml:"directory" json:"directory" envconfig:"DIRECTORY"`
	Groups    GroupsConfig    `yaml:"groups" json:"groups" envconfig:"GROUPS"`
	Users     UsersConfig     `yaml:"users" json:"users" envconfig:"USERS"`
	Sync      SyncConfig      `yaml:"sync" json:"sync" envconfig:"SYNC"`
	Store     StoreConfig     `yaml:"store" json:"store" envconfig:"STORE"`
	Runtime   RuntimeConfig   `yaml:"runtime" json:"runtime" envconfig:"RUNTIME"`
	Server    ServerConfig    `yaml:"server" json:"server" envconfig:"SERVER"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule" envconfig:"SCHEDULE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" envconfig:"FORMAT" validate:"oneof=json console"`
}

type DirectoryConfig struct {
	URLs               []string      `yaml:"urls" json:"urls" envconfig:"URLS" validate:"required,min=1,dive,required"`
	ProtocolVersion    int           `yaml:"protocolVersion" json:"protocolVersion" envconfig:"PROTOCOL_VERSION" validate:"oneof=2 3"`
	BindDN             string        `yaml:"bindDN" json:"bindDN" envconfig:"BIND_DN"`
	BindPassword       string        `yaml:"bindPassword" json:"bindPassword" envconfig:"BIND_PASSWORD"`
	StartTLS           bool          `yaml:"startTLS" json:"startTLS" envconfig:"START_TLS"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify" json:"insecureSkipVerify" envconfig:"INSECURE_SKIP_VERIFY"`
	CAFile             string        `yaml:"caFile" json:"caFile" envconfig:"CA_FILE"`
	PageSize           int           `yaml:"pageSize" json:"pageSize" envconfig:"PAGE_SIZE" validate:"gte=0"`
	Encoding           string        `yaml:"encoding" json:"encoding" envconfig:"ENCODING" validate:"required"`
	DerefAliases       string        `yaml:"derefAliases" json:"derefAliases" envconfig:"DEREF_ALIASES" validate:"oneof=never always"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	ConnectRetries     uint64        `yaml:"connectRetries" json:"connectRetries" envconfig:"CONNECT_RETRIES"`
}

// PagingEnabled reports whether searches should request server side paging.
func (d DirectoryConfig) PagingEnabled() bool {
	return d.ProtocolVersion >= 3 && d.PageSize > 0
}

type GroupsConfig struct {
	Contexts            []string          `yaml:"contexts" json:"contexts" envconfig:"CONTEXTS" validate:"required,min=1"`
	SearchSub           bool              `yaml:"searchSub" json:"searchSub" envconfig:"SEARCH_SUB"`
	ObjectClass         string            `yaml:"objectClass" json:"objectClass" envconfig:"OBJECT_CLASS"`
	Filter              string            `yaml:"filter" json:"filter" envconfig:"FILTER"`
	MemberAttribute     string            `yaml:"memberAttribute" json:"memberAttribute" envconfig:"MEMBER_ATTRIBUTE" validate:"required"`
	MemberAttributeIsDN bool              `yaml:"memberAttributeIsDN" json:"memberAttributeIsDN" envconfig:"MEMBER_ATTRIBUTE_IS_DN"`
	NestedGroups        bool              `yaml:"nestedGroups" json:"nestedGroups" envconfig:"NESTED_GROUPS"`
	BareMemberType      string            `yaml:"bareMemberType" json:"bareMemberType" envconfig:"BARE_MEMBER_TYPE" validate:"oneof=user group"`
	SyncField           string            `yaml:"syncField" json:"syncField" envconfig:"SYNC_FIELD" validate:"oneof=name idnumber"`
	Fields              map[string]string `yaml:"fields" json:"fields" envconfig:"FIELDS"`
	Include             []string          `yaml:"include" json:"include" envconfig:"INCLUDE"`
	Exclude             []string          `yaml:"exclude" json:"exclude" envconfig:"EXCLUDE"`
	ContextID           int64             `yaml:"contextID" json:"contextID" envconfig:"CONTEXT_ID"`
}

// KeyAttribute is the directory attribute holding the group's sync key.
func (g GroupsConfig) KeyAttribute() string {
	return g.Fields[g.SyncField]
}

type UsersConfig struct {
	Contexts          []string          `yaml:"contexts" json:"contexts" envconfig:"CONTEXTS"`
	SearchSub         bool              `yaml:"searchSub" json:"searchSub" envconfig:"SEARCH_SUB"`
	ObjectClass       string            `yaml:"objectClass" json:"objectClass" envconfig:"OBJECT_CLASS"`
	MemberOfAttribute string            `yaml:"memberOfAttribute" json:"memberOfAttribute" envconfig:"MEMBER_OF_ATTRIBUTE"`
	SyncField         string            `yaml:"syncField" json:"syncField" envconfig:"SYNC_FIELD" validate:"oneof=username idnumber dn"`
	Fields            map[string]string `yaml:"fields" json:"fields" envconfig:"FIELDS"`
	AuthMethod        string            `yaml:"authMethod" json:"authMethod" envconfig:"AUTH_METHOD" validate:"required"`
	LoginAuthMethods  []string          `yaml:"loginAuthMethods" json:"loginAuthMethods" envconfig:"LOGIN_AUTH_METHODS"`
}

// IdentityAttribute is the directory attribute carrying the value matched
// against the local user sync field. The dn sync field maps to the entry DN.
func (u UsersConfig) IdentityAttribute() string {
	if u.SyncField == "dn" {
		return "dn"
	}
	return u.Fields[u.SyncField]
}

type SyncConfig struct {
	AutoCreateGroups AutoCreateMode `yaml:"autoCreateGroups" json:"autoCreateGroups" envconfig:"AUTO_CREATE_GROUPS" validate:"oneof=none all groups list"`
	AutoCreateUsers  bool           `yaml:"autoCreateUsers" json:"autoCreateUsers" envconfig:"AUTO_CREATE_USERS"`
	Unsubscribe      bool           `yaml:"unsubscribe" json:"unsubscribe" envconfig:"UNSUBSCRIBE"`
	LoginSync        bool           `yaml:"loginSync" json:"loginSync" envconfig:"LOGIN_SYNC"`
	Debug            bool           `yaml:"debug" json:"debug" envconfig:"DEBUG"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver" json:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres mysql sqlserver memory"`
	DSN          string `yaml:"dsn" json:"dsn" envconfig:"DSN" validate:"required_unless=Driver memory"`
	MaxOpenConns int    `yaml:"maxOpenConns" json:"maxOpenConns" envconfig:"MAX_OPEN_CONNS" validate:"gte=0"`
	EnsureSchema bool   `yaml:"ensureSchema" json:"ensureSchema" envconfig:"ENSURE_SCHEMA"`
}

type RuntimeConfig struct {
	// MemoryLimit is a soft limit in bytes applied for the duration of a pass.
	MemoryLimit int64 `yaml:"memoryLimit" json:"memoryLimit" envconfig:"MEMORY_LIMIT" validate:"gte=0"`
}

type ServerConfig struct {
	Address     string `yaml:"address" json:"address" envconfig:"ADDRESS" validate:"required"`
	HealthCheck bool   `yaml:"healthCheck" json:"healthCheck" envconfig:"HEALTH_CHECK"`
}

// ScheduleConfig drives the long running mode.
type ScheduleConfig struct {
	Interval      time.Duration `yaml:"interval" json:"interval" envconfig:"INTERVAL" validate:"gte=0"`
	LoginDebounce time.Duration `yaml:"loginDebounce" json:"loginDebounce" envconfig:"LOGIN_DEBOUNCE" validate:"gte=0"`
	QueueSize     int           `yaml:"queueSize" json:"queueSize" envconfig:"QUEUE_SIZE" validate:"gte=1"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Directory: DirectoryConfig{
			ProtocolVersion: 3,
			PageSize:        250,
			Encoding:        "utf-8",
			DerefAliases:    "never",
			Timeout:         30 * time.Second,
			ConnectRetries:  2,
		},
		Groups: GroupsConfig{
			SearchSub:       true,
			ObjectClass:     "posixGroup",
			Filter:          "(cn=*)",
			MemberAttribute: "member",
			BareMemberType:  "user",
			SyncField:       "idnumber",
			Fields: map[string]string{
				"name":        "cn",
				"idnumber":    "cn",
				"description": "description",
			},
		},
		Users: UsersConfig{
			SearchSub:         true,
			ObjectClass:       "inetOrgPerson",
			MemberOfAttribute: "memberOf",
			SyncField:         "username",
			Fields: map[string]string{
				"username":  "uid",
				"idnumber":  "uid",
				"firstname": "givenName",
				"lastname":  "sn",
				"email":     "mail",
			},
			AuthMethod:       "ldap",
			LoginAuthMethods: []string{"ldap", "cas"},
		},
		Sync: SyncConfig{
			AutoCreateGroups: AutoCreateNone,
			LoginSync:        true,
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			DSN:          "file:cohortsync.db",
			MaxOpenConns: 4,
		},
		Server: ServerConfig{
			Address:     ":8080",
			HealthCheck: true,
		},
		Schedule: ScheduleConfig{
			Interval:      time.Hour,
			LoginDebounce: 5 * time.Second,
			QueueSize:     100,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize trims list options the way an operator usually writes them
// (";"-separated contexts, blank lines in include/exclude lists).
func (c *Config) normalize() {
	c.Directory.URLs = splitList(c.Directory.URLs)
	c.Groups.Contexts = splitList(c.Groups.Contexts)
	c.Users.Contexts = splitList(c.Users.Contexts)
	c.Groups.Include = splitList(c.Groups.Include)
	c.Groups.Exclude = splitList(c.Groups.Exclude)
	c.Groups.MemberAttribute = strings.ToLower(strings.TrimSpace(c.Groups.MemberAttribute))
	c.Users.MemberOfAttribute = strings.ToLower(strings.TrimSpace(c.Users.MemberOfAttribute))
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Groups.KeyAttribute() == "" {
		return fmt.Errorf("invalid config: groups.fields has no attribute for sync field %q", c.Groups.SyncField)
	}
	if c.Users.Fields["username"] == "" {
		return errors.New("invalid config: users.fields must map username")
	}
	if c.Users.IdentityAttribute() == "" {
		return fmt.Errorf("invalid config: users.fields has no attribute for sync field %q", c.Users.SyncField)
	}
	if len(c.Users.Contexts) == 0 && (c.Sync.AutoCreateUsers || c.Users.SyncField != "dn") {
		return errors.New("invalid config: users.contexts is required to look users up")
	}

	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

const redactedValue = "********"

// Redacted returns a copy safe to print, with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Directory.BindPassword != "" {
		out.Directory.BindPassword = redactedValue
	}
	if out.Store.DSN != "" && out.Store.Driver != "sqlite" {
		out.Store.DSN = redactedValue
	}
	return &out
}
