//nolint:lll // struct tags can't be split
package confessional

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"
)

const (
	EnvvarSetEnvPrefix = "CONFESSIONAL_ENV_PREFIX"
	DefaultEnvPrefix   = "CF"

	// EnvvarDiscordToken is accepted as an alias for the prefixed
	// discord.token setting
	EnvvarDiscordToken = "DISCORD_TOKEN"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "confessional.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second

	DefaultDiscordCommandPrefix = "!"
	DefaultDiscordCommandName   = "post"
	DefaultDiscordCustomStatus  = "!post to confess"
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	DefaultDiscordHTTPTimeout   = 20 * time.Second

	DefaultMaxLength        = 500
	DefaultReplyMaxLength   = 1000
	DefaultContactMaxLength = 300
	DefaultCooldown         = 60 * time.Second
	DefaultContactTimeout   = 5 * time.Minute
	DefaultDeleteCommand    = true
	DefaultBlockMentions    = true
	DefaultLogPosts         = false

	DefaultAvatarDir              = "avatars"
	DefaultAvatarSize             = 256
	DefaultAvatarBlurSigma        = 18.0
	DefaultAvatarFetchTimeout     = 10 * time.Second
	DefaultAvatarFetchesPerSecond = 5.0

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	defaultListenNetwork     = "tcp"

	// discordMaxSelectOptions is the most options a select menu may carry
	discordMaxSelectOptions = 25
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterStructValidation(validateRulesConfig, RulesConfig{})
	v.RegisterStructValidation(validateAvatarConfig, AvatarConfig{})
	return v
}

// Config is the startup configuration for the bot. It's loaded once, by
// the cobra root command, from the environment and optional .env file.
type Config struct {
	// Database connection string (postgres) or file path (sqlite).
	// Reports are written here. Leave empty to disable.
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	Channels *ChannelConfig `yaml:"channels" mapstructure:"channels" json:"channels" binding:"required"`

	// Roles maps the labels offered in the "Looking for" selector to
	// guild role IDs, in display order.
	Roles RoleMapping `yaml:"roles" mapstructure:"roles" json:"roles" binding:"required,min=1,max=25,dive"`

	Rules *RulesConfig `yaml:"rules" mapstructure:"rules" json:"rules" binding:"required"`

	Avatar *AvatarConfig `yaml:"avatar" mapstructure:"avatar" json:"avatar" binding:"required"`

	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits how long connecting to discord may take
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time allowed for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID. When set, the /confess slash command is
	// registered on startup.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CommandPrefix and CommandName make up the text command which posts
	// the launcher message (ex: "!post")
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`
	CommandName   string `yaml:"command_name" mapstructure:"command_name" json:"command_name" binding:"required"`

	// CustomStatus is set on the bot user when connected. Empty disables.
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Reading the text command requires
	// the (privileged) message content intent.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// HTTPTimeout bounds every REST call made to discord
	HTTPTimeout time.Duration `yaml:"http_timeout" mapstructure:"http_timeout" json:"http_timeout" binding:"min=1s"`

	httpClient *http.Client
}

// ChannelConfig holds the channels the bot writes to
type ChannelConfig struct {
	// Post is the channel anonymous posts are sent to
	Post string `yaml:"post" mapstructure:"post" json:"post" binding:"required,numeric"`

	// ModLog receives reports (and post logs, if enabled)
	ModLog string `yaml:"mod_log" mapstructure:"mod_log" json:"mod_log" binding:"omitempty,numeric"`
}

// RulesConfig holds posting limits and behavior toggles
type RulesConfig struct {
	// Maximum length of an anonymous post
	MaxLength int `yaml:"max_length" mapstructure:"max_length" json:"max_length" binding:"min=1,max=4000"`

	// Maximum length of an anonymous reply
	ReplyMaxLength int `yaml:"reply_max_length" mapstructure:"reply_max_length" json:"reply_max_length" binding:"min=1,max=4000"`

	// Maximum length of a DM request message
	ContactMaxLength int `yaml:"contact_max_length" mapstructure:"contact_max_length" json:"contact_max_length" binding:"min=1,max=4000"`

	// Cooldown between posts, per user
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown"`

	// ContactTimeout is how long a poster has to accept or refuse a
	// DM request
	ContactTimeout time.Duration `yaml:"contact_timeout" mapstructure:"contact_timeout" json:"contact_timeout" binding:"min=1s"`

	// DeleteCommand deletes the text command message after the
	// launcher is posted
	DeleteCommand bool `yaml:"delete_command" mapstructure:"delete_command" json:"delete_command"`

	// BlockMentions restricts the mentions an anonymous post may
	// trigger to the targeted role
	BlockMentions bool `yaml:"block_mentions" mapstructure:"block_mentions" json:"block_mentions"`

	// LogPosts sends the author of every post to the mod log channel
	LogPosts bool `yaml:"log_posts" mapstructure:"log_posts" json:"log_posts"`
}

func validateRulesConfig(sl validator.StructLevel) {
	rules := sl.Current().Interface().(RulesConfig)
	if rules.Cooldown < 0 {
		sl.ReportError(rules.Cooldown, "Cooldown", "cooldown", "min", "0")
	}
}

// AvatarConfig configures the blurred avatar thumbnails
type AvatarConfig struct {
	// Directory blurred avatars are cached in
	Dir string `yaml:"dir" mapstructure:"dir" json:"dir" binding:"required"`

	// Width and height of the blurred thumbnail
	Size int `yaml:"size" mapstructure:"size" json:"size" binding:"min=16,max=1024"`

	// Gaussian blur sigma
	BlurSigma float64 `yaml:"blur_sigma" mapstructure:"blur_sigma" json:"blur_sigma"`

	// FetchTimeout bounds downloading the source avatar
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout" json:"fetch_timeout" binding:"min=1s"`

	// FetchesPerSecond limits avatar downloads across all users
	FetchesPerSecond float64 `yaml:"fetches_per_second" mapstructure:"fetches_per_second" json:"fetches_per_second"`
}

func validateAvatarConfig(sl validator.StructLevel) {
	avatar := sl.Current().Interface().(AvatarConfig)
	if avatar.BlurSigma <= 0 {
		sl.ReportError(avatar.BlurSigma, "BlurSigma", "blur_sigma", "gt", "0")
	}
	if avatar.FetchesPerSecond <= 0 {
		sl.ReportError(
			avatar.FetchesPerSecond,
			"FetchesPerSecond",
			"fetches_per_second",
			"gt",
			"0",
		)
	}
}

// APIConfig configures the status API server
type APIConfig struct {
	// Enabled starts the status API alongside the bot
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// CORSAllowOrigins lists origins allowed to call the API from a browser
	CORSAllowOrigins []string `yaml:"cors_allow_origins" mapstructure:"cors_allow_origins" json:"cors_allow_origins"`

	// Development registers pprof handlers under /debug/pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// RoleOption pairs a "Looking for" label with the guild role it mentions
type RoleOption struct {
	Label  string `yaml:"label" mapstructure:"label" json:"label" binding:"required,max=80"`
	RoleID string `yaml:"role_id" mapstructure:"role_id" json:"role_id" binding:"required,numeric"`
}

// RoleMapping is an ordered set of [RoleOption]. Order is the order
// options are shown in the role selector.
type RoleMapping []RoleOption

// RoleID returns the role ID configured for the given label
func (r RoleMapping) RoleID(label string) (string, bool) {
	for _, opt := range r {
		if opt.Label == label {
			return opt.RoleID, true
		}
	}
	return "", false
}

// Labels returns the configured labels, in order
func (r RoleMapping) Labels() []string {
	labels := make([]string, 0, len(r))
	for _, opt := range r {
		labels = append(labels, opt.Label)
	}
	return labels
}

// ParseRoleMapping parses a role mapping from its environment variable
// form, `Label=roleID` pairs separated by commas or semicolons:
//
//	He/Him=1456059354607255612,She/Her=1456059535612444712
func ParseRoleMapping(s string) (RoleMapping, error) {
	var mapping RoleMapping
	seen := map[string]bool{}
	fields := strings.FieldsFunc(
		s, func(r rune) bool {
			return r == ',' || r == ';' || r == '\n'
		},
	)
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		label, roleID, ok := strings.Cut(field, "=")
		label = strings.TrimSpace(label)
		roleID = strings.TrimSpace(roleID)
		if !ok || label == "" || roleID == "" {
			return nil, fmt.Errorf("invalid role mapping entry: %q", field)
		}
		if seen[label] {
			return nil, fmt.Errorf("duplicate role label: %q", label)
		}
		seen[label] = true
		mapping = append(mapping, RoleOption{Label: label, RoleID: roleID})
	}
	return mapping, nil
}

// StringToRoleMappingHookFunc is a mapstructure decode hook which
// converts the string form of [RoleMapping] (as read from the
// environment) via [ParseRoleMapping]
func StringToRoleMappingHookFunc() func(
	f reflect.Type,
	t reflect.Type,
	data any,
) (any, error) {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(RoleMapping{}) {
			return data, nil
		}
		return ParseRoleMapping(data.(string))
	}
}

// DefaultConfig returns a Config with all default settings populated.
// Channels, roles and the discord token have no defaults.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultDiscordCommandPrefix,
			CommandName:       DefaultDiscordCommandName,
			CustomStatus:      DefaultDiscordCustomStatus,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			HTTPTimeout:       DefaultDiscordHTTPTimeout,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Channels: &ChannelConfig{},
		Rules: &RulesConfig{
			MaxLength:        DefaultMaxLength,
			ReplyMaxLength:   DefaultReplyMaxLength,
			ContactMaxLength: DefaultContactMaxLength,
			Cooldown:         DefaultCooldown,
			ContactTimeout:   DefaultContactTimeout,
			DeleteCommand:    DefaultDeleteCommand,
			BlockMentions:    DefaultBlockMentions,
			LogPosts:         DefaultLogPosts,
		},
		Avatar: &AvatarConfig{
			Dir:              DefaultAvatarDir,
			Size:             DefaultAvatarSize,
			BlurSigma:        DefaultAvatarBlurSigma,
			FetchTimeout:     DefaultAvatarFetchTimeout,
			FetchesPerSecond: DefaultAvatarFetchesPerSecond,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
